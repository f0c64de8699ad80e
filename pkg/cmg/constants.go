// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package cmg implements the serial link protocol spoken by the CMG balancing
// platform firmware.
//
// The link interleaves newline-terminated ASCII lines (LOG:, STATUS: and free
// text) with fixed-size 110-byte binary telemetry frames that start with the
// magic marker 0xAA 0x55 and end with an XOR checksum. This package provides
// the stream demultiplexer, the frame decoder and encoder, line classification,
// statistics, validation and formatting helpers, and the outbound HMI command
// set.
package cmg

// Frame marker bytes
const (
	MagicByte1 = 0xAA
	MagicByte2 = 0x55
)

// Frame sizes
const (
	FrameSize      = 110
	MagicSize      = 2
	ChecksumOffset = FrameSize - 1
)

// Receive buffer limits
const (
	MaxBufferSize        = 10000 // roughly 90 frames
	OverflowSearchWindow = 500
	MaxCarrySize         = 300
)

// Printable ratios, in percent
const (
	linePrintablePercent  = 80
	carryPrintablePercent = 50
)

// Text line prefixes emitted by the firmware
const (
	StatusPrefix = "STATUS:"
	LogPrefix    = "LOG:"
)

// Field offsets inside a telemetry frame (little-endian)
const (
	offTimestamp      = 2
	offRoll           = 6
	offPitch          = 10
	offYaw            = 14
	offGyroX          = 18
	offGyroY          = 22
	offGyroZ          = 26
	offAccelX         = 30
	offAccelY         = 34
	offTargetRPM      = 38
	offWheel1RPM      = 42
	offWheel2RPM      = 46
	offWheel1PWM      = 50
	offWheel2PWM      = 54
	offWheelState     = 58
	offGimbalAngle    = 59
	offGimbalTarget   = 63
	offGimbalVelocity = 67
	offGimbal1        = 71
	offGimbal2        = 75
	offBalancing      = 79
	offBalKp          = 80
	offBalKi          = 84
	offBalKd          = 88
	offWashout        = 92
	offWheelKp        = 96
	offWheelKi        = 100
	offWheelKd        = 104
	offCommBits       = 108
)
