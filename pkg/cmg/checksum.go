// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

// ChecksumVariant identifies which checksum computation a frame satisfied.
//
// Firmware revisions disagree on whether the magic marker is part of the
// checksum, so both variants are accepted.
type ChecksumVariant int

const (
	ChecksumNone         ChecksumVariant = iota
	ChecksumWithMagic                    // XOR over bytes 0..108
	ChecksumWithoutMagic                 // XOR over bytes 2..108
)

// String returns a short diagnostic label
func (v ChecksumVariant) String() string {
	switch v {
	case ChecksumWithMagic:
		return "magic incl"
	case ChecksumWithoutMagic:
		return "magic excl"
	default:
		return "none"
	}
}

// CalculateChecksum computes the XOR of all bytes in data
func CalculateChecksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// frameChecksums returns both checksum variants for a full-size frame
func frameChecksums(frame []byte) (withMagic, withoutMagic uint8) {
	withoutMagic = CalculateChecksum(frame[MagicSize:ChecksumOffset])
	withMagic = withoutMagic ^ frame[0] ^ frame[1]
	return withMagic, withoutMagic
}
