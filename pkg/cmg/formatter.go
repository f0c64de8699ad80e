// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"fmt"
	"strings"
)

// FormatTelemetry formats a telemetry record into a human-readable block
func FormatTelemetry(t *Telemetry, variant ChecksumVariant) string {
	var b strings.Builder

	received := "--:--:--.---"
	if !t.ReceivedAt.IsZero() {
		received = t.ReceivedAt.Format("15:04:05.000")
	}
	fmt.Fprintf(&b, "[%s] TELEMETRY t=%dms (%s)\n", received, t.TimestampMs, variant)

	fmt.Fprintf(&b, "  IMU:     roll=%.2f° pitch=%.2f° yaw=%.2f°\n", t.Roll, t.Pitch, t.Yaw)
	fmt.Fprintf(&b, "           gyro=(%.2f, %.2f, %.2f) accel=(%.3f, %.3f)\n",
		t.GyroX, t.GyroY, t.GyroZ, t.AccelX, t.AccelY)

	fmt.Fprintf(&b, "  Wheels:  %s target=%d rpm1=%d rpm2=%d pwm1=%.1f%% pwm2=%.1f%%\n",
		onOff(t.WheelRunning()), t.TargetRPM, t.Wheel1RPM, t.Wheel2RPM, t.Wheel1PWM, t.Wheel2PWM)

	fmt.Fprintf(&b, "  Gimbal:  angle=%.2f° target=%.2f° vel=%.2f°/s g1=%.2f g2=%.2f\n",
		t.GimbalAngle, t.GimbalTarget, t.GimbalVelocity, t.Gimbal1, t.Gimbal2)

	fmt.Fprintf(&b, "  Balance: %s kp=%.2f ki=%.3f kd=%.2f washout=%.3f\n",
		onOff(t.BalancingEnabled()), t.BalKp, t.BalKi, t.BalKd, t.WashoutGain)

	fmt.Fprintf(&b, "  WheelPID: kp=%s ki=%s kd=%s\n",
		formatGain(t.WheelKp), formatGain(t.WheelKi), formatGain(t.WheelKd))

	fmt.Fprintf(&b, "  Comm:    0b%08b\n", t.CommBits)

	return b.String()
}

// FormatCompact formats the most watched values on a single line
func FormatCompact(t *Telemetry) string {
	return fmt.Sprintf("t=%8dms roll=%7.2f gimbal=%7.2f vel=%7.2f rpm=%5d/%5d bal=%s",
		t.TimestampMs, t.Roll, t.GimbalAngle, t.GimbalVelocity, t.Wheel1RPM, t.Wheel2RPM,
		onOff(t.BalancingEnabled()))
}

// FormatChecksumError formats a rejected frame for diagnostics
func FormatChecksumError(e *ChecksumError) string {
	return fmt.Sprintf("CHECKSUM FAIL: got=0x%02X calc_full=0x%02X calc_nomagic=0x%02X",
		e.Expected, e.WithMagic, e.WithoutMagic)
}

// FormatHex formats a byte slice as hex with a space between bytes
func FormatHex(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// formatGain uses the same 6 significant digits the WK command sends
func formatGain(v float32) string {
	return fmt.Sprintf("%.6g", v)
}
