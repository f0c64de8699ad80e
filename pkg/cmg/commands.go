// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import "fmt"

// Command builder functions create the ASCII command texts understood by the
// firmware HMI parser. The newline terminator is added by the sender.

// Fixed commands
const (
	CmdStartWheel     = "S1"
	CmdStopWheel      = "S0"
	CmdEmergencyStop  = "E"
	CmdResetEmergency = "X"
	CmdQueryStatus    = "?"
	CmdStartBalancing = "B1"
	CmdStopBalancing  = "B0"
	cmdTargetRPM      = "R"
	cmdGimbalAngle    = "A"
	cmdBalancingPID   = "K"
	cmdWheelPID       = "WK"
	cmdWashoutGain    = "W"
)

// SetTargetRPM creates the target wheel speed command.
// Negative speeds are clamped to 0.
func SetTargetRPM(rpm int) string {
	if rpm < 0 {
		rpm = 0
	}
	return fmt.Sprintf("%s%d", cmdTargetRPM, rpm)
}

// SetGimbalAngle creates the gimbal angle command (degrees, 1 decimal)
func SetGimbalAngle(angle float64) string {
	return fmt.Sprintf("%s%.1f", cmdGimbalAngle, angle)
}

// SetBalancingPID creates the balancing controller gains command
func SetBalancingPID(kp, ki, kd, washout float64) string {
	return fmt.Sprintf("%s%.2f,%.3f,%.2f,%.3f", cmdBalancingPID, kp, ki, kd, washout)
}

// SetWheelPID creates the wheel speed controller gains command.
// Gains are sent with 6 significant digits since they span several decades.
func SetWheelPID(kp, ki, kd float64) string {
	return fmt.Sprintf("%s%.6g,%.6g,%.6g", cmdWheelPID, kp, ki, kd)
}

// SetWashoutGain creates the washout gain command
func SetWashoutGain(gain float64) string {
	return fmt.Sprintf("%s%.3f", cmdWashoutGain, gain)
}

// Wheel returns the start or stop wheel command
func Wheel(on bool) string {
	if on {
		return CmdStartWheel
	}
	return CmdStopWheel
}

// Balancing returns the start or stop balancing command
func Balancing(on bool) string {
	if on {
		return CmdStartBalancing
	}
	return CmdStopBalancing
}
