// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"encoding/binary"
	"math"
)

// EncodeTelemetry builds a wire-format telemetry frame.
//
// The checksum is computed with the requested variant; ChecksumNone is
// treated as ChecksumWithMagic. The host-side ReceivedAt field is not encoded.
func EncodeTelemetry(t *Telemetry, variant ChecksumVariant) []byte {
	d := make([]byte, FrameSize)
	d[0] = MagicByte1
	d[1] = MagicByte2

	binary.LittleEndian.PutUint32(d[offTimestamp:], t.TimestampMs)

	putF32(d, offRoll, t.Roll)
	putF32(d, offPitch, t.Pitch)
	putF32(d, offYaw, t.Yaw)
	putF32(d, offGyroX, t.GyroX)
	putF32(d, offGyroY, t.GyroY)
	putF32(d, offGyroZ, t.GyroZ)
	putF32(d, offAccelX, t.AccelX)
	putF32(d, offAccelY, t.AccelY)

	putI32(d, offTargetRPM, t.TargetRPM)
	putI32(d, offWheel1RPM, t.Wheel1RPM)
	putI32(d, offWheel2RPM, t.Wheel2RPM)
	putF32(d, offWheel1PWM, t.Wheel1PWM)
	putF32(d, offWheel2PWM, t.Wheel2PWM)
	d[offWheelState] = t.WheelState

	putF32(d, offGimbalAngle, t.GimbalAngle)
	putF32(d, offGimbalTarget, t.GimbalTarget)
	putF32(d, offGimbalVelocity, t.GimbalVelocity)
	putF32(d, offGimbal1, t.Gimbal1)
	putF32(d, offGimbal2, t.Gimbal2)

	d[offBalancing] = t.Balancing
	putF32(d, offBalKp, t.BalKp)
	putF32(d, offBalKi, t.BalKi)
	putF32(d, offBalKd, t.BalKd)
	putF32(d, offWashout, t.WashoutGain)

	putF32(d, offWheelKp, t.WheelKp)
	putF32(d, offWheelKi, t.WheelKi)
	putF32(d, offWheelKd, t.WheelKd)

	d[offCommBits] = t.CommBits

	withMagic, withoutMagic := frameChecksums(d)
	if variant == ChecksumWithoutMagic {
		d[ChecksumOffset] = withoutMagic
	} else {
		d[ChecksumOffset] = withMagic
	}
	return d
}

func putF32(d []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(d[off:], math.Float32bits(v))
}

func putI32(d []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(d[off:], uint32(v))
}
