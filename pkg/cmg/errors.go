// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import "fmt"

// ChecksumError reports a candidate frame that satisfied neither checksum variant.
type ChecksumError struct {
	Expected     uint8 // checksum byte carried in the frame
	WithMagic    uint8
	WithoutMagic uint8
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, full 0x%02X, no-magic 0x%02X",
		e.Expected, e.WithMagic, e.WithoutMagic)
}

// FrameError reports input that cannot be a telemetry frame at all.
type FrameError struct {
	Length int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame (%d bytes): %s", e.Length, e.Reason)
}
