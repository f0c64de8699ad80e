// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	AnomalyNonFinite AnomalyType = iota
	AnomalyHighRPM
	AnomalyInvalidPWM
	AnomalyInvalidFlag
	AnomalyChecksum
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyNonFinite:
		return "NON_FINITE"
	case AnomalyHighRPM:
		return "HIGH_RPM"
	case AnomalyInvalidPWM:
		return "INVALID_PWM"
	case AnomalyInvalidFlag:
		return "INVALID_FLAG"
	case AnomalyChecksum:
		return "CHECKSUM"
	default:
		return "UNKNOWN"
	}
}

// Validation limits
const (
	MaxWheelRPM = 10000
	MaxWheelPWM = 100.0
)

// ValidationError represents a telemetry validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateTelemetry checks a decoded record for implausible values.
// Returns a slice of validation errors (empty if the record looks sane).
// The frame checksum already passed, so anomalies here point at firmware bugs
// or a checksum collision on a corrupted frame.
func ValidateTelemetry(t *Telemetry) []ValidationError {
	errors := []ValidationError{}

	for _, f := range t.floatFields() {
		v := float64(f.value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyNonFinite,
				Message: fmt.Sprintf("%s is not finite (%v)", f.name, v),
				Details: map[string]interface{}{"field": f.name, "value": v},
			})
		}
	}

	rpms := []struct {
		name  string
		value int32
	}{
		{"target_rpm", t.TargetRPM},
		{"wheel1_rpm", t.Wheel1RPM},
		{"wheel2_rpm", t.Wheel2RPM},
	}
	for _, r := range rpms {
		if r.value > MaxWheelRPM || r.value < -MaxWheelRPM {
			errors = append(errors, ValidationError{
				Type:    AnomalyHighRPM,
				Message: fmt.Sprintf("%s out of range (%d, max ±%d)", r.name, r.value, MaxWheelRPM),
				Details: map[string]interface{}{"field": r.name, "value": r.value, "max": MaxWheelRPM},
			})
		}
	}

	pwms := []struct {
		name  string
		value float32
	}{
		{"wheel1_pwm", t.Wheel1PWM},
		{"wheel2_pwm", t.Wheel2PWM},
	}
	for _, p := range pwms {
		if math.Abs(float64(p.value)) > MaxWheelPWM {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidPWM,
				Message: fmt.Sprintf("%s out of range (%.1f%%, max ±%.0f%%)", p.name, p.value, MaxWheelPWM),
				Details: map[string]interface{}{"field": p.name, "value": p.value, "max": MaxWheelPWM},
			})
		}
	}

	if t.Balancing > 1 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidFlag,
			Message: fmt.Sprintf("balancing flag=%d (expected 0 or 1)", t.Balancing),
			Details: map[string]interface{}{"field": "balancing", "value": t.Balancing},
		})
	}

	return errors
}

type namedFloat struct {
	name  string
	value float32
}

// floatFields lists every float field for validation and formatting
func (t *Telemetry) floatFields() []namedFloat {
	return []namedFloat{
		{"roll", t.Roll},
		{"pitch", t.Pitch},
		{"yaw", t.Yaw},
		{"gyro_x", t.GyroX},
		{"gyro_y", t.GyroY},
		{"gyro_z", t.GyroZ},
		{"accel_x", t.AccelX},
		{"accel_y", t.AccelY},
		{"wheel1_pwm", t.Wheel1PWM},
		{"wheel2_pwm", t.Wheel2PWM},
		{"gimbal_angle", t.GimbalAngle},
		{"gimbal_target", t.GimbalTarget},
		{"gimbal_velocity", t.GimbalVelocity},
		{"gimbal1", t.Gimbal1},
		{"gimbal2", t.Gimbal2},
		{"bal_kp", t.BalKp},
		{"bal_ki", t.BalKi},
		{"bal_kd", t.BalKd},
		{"washout_gain", t.WashoutGain},
		{"wheel_kp", t.WheelKp},
		{"wheel_ki", t.WheelKi},
		{"wheel_kd", t.WheelKd},
	}
}
