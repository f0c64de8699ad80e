// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"encoding/binary"
	"math"
	"time"
)

// DecodeFrame validates a 110-byte candidate frame and extracts its fields.
//
// The frame is accepted when its trailing byte matches either checksum
// variant; the matched variant is returned for diagnostics. A mismatch is
// reported as *ChecksumError so the caller can resynchronize. The input slice
// is never modified.
func DecodeFrame(frame []byte) (*Telemetry, ChecksumVariant, error) {
	if len(frame) != FrameSize {
		return nil, ChecksumNone, &FrameError{Length: len(frame), Reason: "wrong length"}
	}
	if frame[0] != MagicByte1 || frame[1] != MagicByte2 {
		return nil, ChecksumNone, &FrameError{Length: len(frame), Reason: "missing magic marker"}
	}

	expected := frame[ChecksumOffset]
	withMagic, withoutMagic := frameChecksums(frame)

	var variant ChecksumVariant
	switch expected {
	case withMagic:
		variant = ChecksumWithMagic
	case withoutMagic:
		variant = ChecksumWithoutMagic
	default:
		return nil, ChecksumNone, &ChecksumError{
			Expected:     expected,
			WithMagic:    withMagic,
			WithoutMagic: withoutMagic,
		}
	}

	t := parseFields(frame)
	t.ReceivedAt = time.Now()
	return t, variant, nil
}

// parseFields extracts every field from fixed offsets
func parseFields(d []byte) *Telemetry {
	return &Telemetry{
		TimestampMs: binary.LittleEndian.Uint32(d[offTimestamp:]),

		Roll:   f32(d, offRoll),
		Pitch:  f32(d, offPitch),
		Yaw:    f32(d, offYaw),
		GyroX:  f32(d, offGyroX),
		GyroY:  f32(d, offGyroY),
		GyroZ:  f32(d, offGyroZ),
		AccelX: f32(d, offAccelX),
		AccelY: f32(d, offAccelY),

		TargetRPM:  i32(d, offTargetRPM),
		Wheel1RPM:  i32(d, offWheel1RPM),
		Wheel2RPM:  i32(d, offWheel2RPM),
		Wheel1PWM:  f32(d, offWheel1PWM),
		Wheel2PWM:  f32(d, offWheel2PWM),
		WheelState: d[offWheelState],

		GimbalAngle:    f32(d, offGimbalAngle),
		GimbalTarget:   f32(d, offGimbalTarget),
		GimbalVelocity: f32(d, offGimbalVelocity),
		Gimbal1:        f32(d, offGimbal1),
		Gimbal2:        f32(d, offGimbal2),

		Balancing:   d[offBalancing],
		BalKp:       f32(d, offBalKp),
		BalKi:       f32(d, offBalKi),
		BalKd:       f32(d, offBalKd),
		WashoutGain: f32(d, offWashout),

		WheelKp: f32(d, offWheelKp),
		WheelKi: f32(d, offWheelKi),
		WheelKd: f32(d, offWheelKd),

		CommBits: d[offCommBits],
	}
}

func f32(d []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(d[off:]))
}

func i32(d []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(d[off:]))
}
