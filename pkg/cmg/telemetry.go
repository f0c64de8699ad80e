// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import "time"

// Telemetry is one decoded telemetry frame.
//
// Each successfully decoded frame replaces the previous record wholesale; the
// fields map one to one onto the frame layout.
type Telemetry struct {
	TimestampMs uint32

	// IMU
	Roll   float32
	Pitch  float32
	Yaw    float32
	GyroX  float32
	GyroY  float32
	GyroZ  float32
	AccelX float32
	AccelY float32

	// Reaction wheels
	TargetRPM  int32
	Wheel1RPM  int32
	Wheel2RPM  int32
	Wheel1PWM  float32
	Wheel2PWM  float32
	WheelState uint8

	// Gimbal
	GimbalAngle    float32
	GimbalTarget   float32
	GimbalVelocity float32
	Gimbal1        float32
	Gimbal2        float32

	// Balancing controller
	Balancing   uint8
	BalKp       float32
	BalKi       float32
	BalKd       float32
	WashoutGain float32

	// Wheel speed controller
	WheelKp float32
	WheelKi float32
	WheelKd float32

	CommBits uint8

	// Host-side receive time, not part of the frame
	ReceivedAt time.Time
}

// BalancingEnabled reports whether the balancing loop is running
func (t *Telemetry) BalancingEnabled() bool {
	return t.Balancing != 0
}

// WheelRunning reports whether the wheel state flag is set
func (t *Telemetry) WheelRunning() bool {
	return t.WheelState != 0
}

// Torque returns the gyroscopic torque estimate used by the CSV recorder:
// wheel speed in kRPM times gimbal rate.
func (t *Telemetry) Torque() float64 {
	return float64(t.Wheel1RPM) / 1000.0 * float64(t.GimbalVelocity)
}

// CommBit reports whether bit n of the comm status byte is set
func (t *Telemetry) CommBit(n uint) bool {
	if n > 7 {
		return false
	}
	return t.CommBits&(1<<n) != 0
}
