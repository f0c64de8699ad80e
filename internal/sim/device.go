// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim emulates the firmware side of the link for bench testing.
//
// A Device answers the HMI commands the host sends and produces plausible
// telemetry: a rocking platform that settles while balancing is on, wheels
// that track the target speed and a gimbal that follows its setpoint.
package sim

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
)

// ErrEmergency is returned for motion commands while the emergency stop is latched
var ErrEmergency = errors.New("emergency stop active")

const (
	rockPeriod    = 4 * time.Second
	rockAmplitude = 2.0 // degrees
	settledFactor = 0.1
	wheelSlip     = 3 // rpm difference between the two wheels
)

// Device is a simulated controller. It is safe for concurrent use.
type Device struct {
	mu    sync.Mutex
	start time.Time

	wheelOn      bool
	balancing    bool
	emergency    bool
	targetRPM    int32
	gimbalTarget float32

	balKp, balKi, balKd, washout float32
	wheelKp, wheelKi, wheelKd    float32

	commands uint64
}

// NewDevice creates an idle device whose clock starts at start
func NewDevice(start time.Time) *Device {
	return &Device{
		start:   start,
		balKp:   2.5,
		balKi:   0.05,
		balKd:   0.4,
		washout: 0.01,
		wheelKp: 0.002,
		wheelKi: 0.0001,
	}
}

// Handle executes one command line and returns the text reply, without the
// trailing newline
func (d *Device) Handle(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty command")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands++

	if err := d.apply(line); err != nil {
		return fmt.Sprintf("LOG: rejected %s: %v", line, err), err
	}
	if line == cmg.CmdQueryStatus {
		return d.statusLocked(), nil
	}
	return "LOG: ok " + line, nil
}

func (d *Device) apply(line string) error {
	switch line {
	case cmg.CmdQueryStatus:
		return nil
	case cmg.CmdEmergencyStop:
		d.emergency = true
		d.wheelOn = false
		d.balancing = false
		return nil
	case cmg.CmdResetEmergency:
		d.emergency = false
		return nil
	case cmg.CmdStopWheel:
		d.wheelOn = false
		return nil
	case cmg.CmdStopBalancing:
		d.balancing = false
		return nil
	case cmg.CmdStartWheel:
		if d.emergency {
			return ErrEmergency
		}
		d.wheelOn = true
		return nil
	case cmg.CmdStartBalancing:
		if d.emergency {
			return ErrEmergency
		}
		d.balancing = true
		return nil
	}

	switch {
	case strings.HasPrefix(line, "WK"):
		v, err := parseFloats(line[2:], 3)
		if err != nil {
			return err
		}
		d.wheelKp, d.wheelKi, d.wheelKd = v[0], v[1], v[2]
	case strings.HasPrefix(line, "W"):
		v, err := parseFloats(line[1:], 1)
		if err != nil {
			return err
		}
		d.washout = v[0]
	case strings.HasPrefix(line, "K"):
		v, err := parseFloats(line[1:], 4)
		if err != nil {
			return err
		}
		d.balKp, d.balKi, d.balKd, d.washout = v[0], v[1], v[2], v[3]
	case strings.HasPrefix(line, "R"):
		rpm, err := strconv.Atoi(line[1:])
		if err != nil {
			return fmt.Errorf("bad rpm: %w", err)
		}
		if rpm < 0 || rpm > cmg.MaxWheelRPM {
			return fmt.Errorf("rpm %d out of range", rpm)
		}
		d.targetRPM = int32(rpm)
	case strings.HasPrefix(line, "A"):
		v, err := parseFloats(line[1:], 1)
		if err != nil {
			return err
		}
		d.gimbalTarget = v[0]
	default:
		return errors.New("unknown command")
	}
	return nil
}

func parseFloats(s string, n int) ([]float32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(parts))
	}
	out := make([]float32, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", p, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// Status returns the STATUS line the device sends for a query
func (d *Device) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusLocked()
}

func (d *Device) statusLocked() string {
	return fmt.Sprintf("STATUS: wheel=%s rpm=%d bal=%s estop=%d gimbal=%.1f",
		onOff(d.wheelOn), d.targetRPM, onOff(d.balancing), b2u(d.emergency), d.gimbalTarget)
}

// Commands returns the number of command lines handled
func (d *Device) Commands() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands
}

// Telemetry samples the simulated platform at now
func (d *Device) Telemetry(now time.Time) *cmg.Telemetry {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := now.Sub(d.start)
	if elapsed < 0 {
		elapsed = 0
	}
	phase := 2 * math.Pi * float64(elapsed%rockPeriod) / float64(rockPeriod)
	omega := 2 * math.Pi / rockPeriod.Seconds()

	amp := rockAmplitude
	if d.balancing {
		amp *= settledFactor
	}

	var rpm1, rpm2 int32
	if d.wheelOn {
		rpm1 = d.targetRPM
		rpm2 = max(d.targetRPM-wheelSlip, 0)
	}
	pwm := func(rpm int32) float32 {
		return float32(rpm) * cmg.MaxWheelPWM / cmg.MaxWheelRPM
	}

	gimbalVel := float32(math.Cos(phase) * amp * omega * 0.5)

	return &cmg.Telemetry{
		TimestampMs: uint32(elapsed.Milliseconds()),

		Roll:   float32(amp * math.Sin(phase)),
		Pitch:  float32(0.1 * math.Sin(phase/2)),
		Yaw:    0,
		GyroX:  float32(amp * omega * math.Cos(phase)),
		GyroY:  0,
		GyroZ:  0,
		AccelX: float32(0.01 * math.Sin(phase)),
		AccelY: 0,

		TargetRPM:  d.targetRPM,
		Wheel1RPM:  rpm1,
		Wheel2RPM:  rpm2,
		Wheel1PWM:  pwm(rpm1),
		Wheel2PWM:  pwm(rpm2),
		WheelState: b2u(d.wheelOn),

		GimbalAngle:    d.gimbalTarget + float32(0.5*amp*math.Sin(phase)),
		GimbalTarget:   d.gimbalTarget,
		GimbalVelocity: gimbalVel,
		Gimbal1:        d.gimbalTarget,
		Gimbal2:        -d.gimbalTarget,

		Balancing:   b2u(d.balancing),
		BalKp:       d.balKp,
		BalKi:       d.balKi,
		BalKd:       d.balKd,
		WashoutGain: d.washout,

		WheelKp: d.wheelKp,
		WheelKi: d.wheelKi,
		WheelKd: d.wheelKd,

		// IMU and both wheel drivers responding
		CommBits: 0b00000111,
	}
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func b2u(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
