// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"errors"
	"math"
	"strings"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// sampleTelemetry returns a record whose encoding contains no newline and no
// magic marker outside the header, so stream tests stay deterministic.
func sampleTelemetry() *Telemetry {
	return &Telemetry{
		TimestampMs:    123456,
		Roll:           1.5,
		Pitch:          -2.25,
		Yaw:            90.0,
		GyroX:          0.5,
		GyroY:          -0.125,
		GyroZ:          3.0,
		AccelX:         0.25,
		AccelY:         -0.5,
		TargetRPM:      3000,
		Wheel1RPM:      2950,
		Wheel2RPM:      -2940,
		Wheel1PWM:      45.5,
		Wheel2PWM:      -44.75,
		WheelState:     1,
		GimbalAngle:    12.5,
		GimbalTarget:   10.0,
		GimbalVelocity: -4.5,
		Gimbal1:        1.25,
		Gimbal2:        -1.25,
		Balancing:      1,
		BalKp:          2.5,
		BalKi:          0.125,
		BalKd:          0.75,
		WashoutGain:    0.05,
		WheelKp:        0.002,
		WheelKi:        0.0001,
		WheelKd:        0,
		CommBits:       0x05,
	}
}

// sameFields compares every wire field, ignoring ReceivedAt
func sameFields(a, b *Telemetry) bool {
	x, y := *a, *b
	x.ReceivedAt = y.ReceivedAt
	return x == y
}

// ============================================================
// Checksum Tests
// ============================================================

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint8
	}{
		{"empty", []byte{}, 0x00},
		{"single", []byte{0x5A}, 0x5A},
		{"marker", []byte{MagicByte1, MagicByte2}, 0xFF},
		{"cancel", []byte{0x12, 0x34, 0x12, 0x34}, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateChecksum(tt.data); got != tt.expected {
				t.Errorf("expected 0x%02X, got 0x%02X", tt.expected, got)
			}
		})
	}
}

func TestChecksumVariant_String(t *testing.T) {
	if ChecksumWithMagic.String() != "magic incl" {
		t.Errorf("unexpected label %q", ChecksumWithMagic.String())
	}
	if ChecksumWithoutMagic.String() != "magic excl" {
		t.Errorf("unexpected label %q", ChecksumWithoutMagic.String())
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecodeFrame_BothVariants(t *testing.T) {
	tests := []struct {
		name    string
		variant ChecksumVariant
	}{
		{"with magic", ChecksumWithMagic},
		{"without magic", ChecksumWithoutMagic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := sampleTelemetry()
			frame := EncodeTelemetry(want, tt.variant)

			got, variant, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if variant != tt.variant {
				t.Errorf("expected variant %v, got %v", tt.variant, variant)
			}
			if !sameFields(got, want) {
				t.Errorf("field mismatch:\n got  %+v\n want %+v", got, want)
			}
			if got.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should be set")
			}
		})
	}
}

func TestDecodeFrame_ChecksumRanges(t *testing.T) {
	frame := EncodeTelemetry(sampleTelemetry(), ChecksumWithMagic)

	want := CalculateChecksum(frame[:ChecksumOffset])
	if frame[ChecksumOffset] != want {
		t.Errorf("variant A should cover bytes 0..108: expected 0x%02X, got 0x%02X", want, frame[ChecksumOffset])
	}

	frame = EncodeTelemetry(sampleTelemetry(), ChecksumWithoutMagic)
	want = CalculateChecksum(frame[MagicSize:ChecksumOffset])
	if frame[ChecksumOffset] != want {
		t.Errorf("variant B should cover bytes 2..108: expected 0x%02X, got 0x%02X", want, frame[ChecksumOffset])
	}
}

func TestDecodeFrame_ExtremeValues(t *testing.T) {
	want := &Telemetry{
		TimestampMs: math.MaxUint32,
		TargetRPM:   math.MinInt32,
		Wheel1RPM:   math.MaxInt32,
		Wheel2RPM:   -1,
		Roll:        float32(math.Inf(1)),
		Pitch:       -math.MaxFloat32,
		Yaw:         math.SmallestNonzeroFloat32,
		WheelState:  0xFF,
		Balancing:   0xFF,
		CommBits:    0xFF,
	}
	got, _, err := DecodeFrame(EncodeTelemetry(want, ChecksumWithMagic))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !sameFields(got, want) {
		t.Errorf("field mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestDecodeFrame_SingleByteCorruption(t *testing.T) {
	clean := EncodeTelemetry(sampleTelemetry(), ChecksumWithMagic)

	for _, pos := range []int{2, 50, 79, 108, ChecksumOffset} {
		frame := append([]byte(nil), clean...)
		frame[pos] ^= 0x01

		_, variant, err := DecodeFrame(frame)
		if err == nil {
			t.Errorf("pos %d: expected checksum error", pos)
			continue
		}
		var csErr *ChecksumError
		if !errors.As(err, &csErr) {
			t.Errorf("pos %d: expected *ChecksumError, got %T", pos, err)
			continue
		}
		if variant != ChecksumNone {
			t.Errorf("pos %d: expected ChecksumNone, got %v", pos, variant)
		}
		if csErr.Expected != frame[ChecksumOffset] {
			t.Errorf("pos %d: expected byte 0x%02X, error reports 0x%02X", pos, frame[ChecksumOffset], csErr.Expected)
		}
	}
}

func TestDecodeFrame_DoesNotMutateInput(t *testing.T) {
	frame := EncodeTelemetry(sampleTelemetry(), ChecksumWithMagic)
	frame[60] ^= 0x01
	before := append([]byte(nil), frame...)

	DecodeFrame(frame)

	if string(before) != string(frame) {
		t.Error("decoder modified its input")
	}
}

func TestDecodeFrame_InvalidFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", []byte{}},
		{"short", make([]byte, FrameSize-1)},
		{"long", make([]byte, FrameSize+1)},
		{"no marker", make([]byte, FrameSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeFrame(tt.frame)
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Errorf("expected *FrameError, got %v", err)
			}
		})
	}
}

// ============================================================
// Telemetry Tests
// ============================================================

func TestTelemetry_Torque(t *testing.T) {
	tel := &Telemetry{Wheel1RPM: 3000, GimbalVelocity: -2.0}
	if got := tel.Torque(); got != -6.0 {
		t.Errorf("expected torque -6.0, got %v", got)
	}
}

func TestTelemetry_CommBit(t *testing.T) {
	tel := &Telemetry{CommBits: 0x05}
	expected := []bool{true, false, true, false, false, false, false, false}
	for i, want := range expected {
		if got := tel.CommBit(uint(i)); got != want {
			t.Errorf("bit %d: expected %v, got %v", i, want, got)
		}
	}
	if tel.CommBit(8) {
		t.Error("bit 8 should be false")
	}
}

// ============================================================
// Line Classifier Tests
// ============================================================

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		want   string
		isText bool
	}{
		{"plain", []byte("LOG: hello"), "LOG: hello", true},
		{"carriage return", []byte("STATUS: OK\r"), "STATUS: OK", true},
		{"surrounding spaces", []byte("  spaced  "), "spaced", true},
		{"leading noise", []byte("\x01\x02LOG: boot complete ok"), "LOG: boot complete ok", true},
		{"empty", []byte{}, "", false},
		{"only spaces", []byte("    "), "", false},
		{"binary", []byte{0x01, 0x02, 0x03, 0x04, 'a'}, "", false},
		{"just below threshold", []byte("abc\x01\x02"), "", false}, // 60%
		{"exactly threshold", []byte("abcd\x01"), "abcd", true},    // 80%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyLine(tt.raw)
			if ok != tt.isText {
				t.Fatalf("expected isText=%v, got %v", tt.isText, ok)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClassifyLine_InvalidUTF8(t *testing.T) {
	// 0xC3 alone is an incomplete UTF-8 sequence but also non-printable,
	// so it must be inside the line to survive trimming
	raw := []byte("temperature \xC3 value ok")
	got, ok := ClassifyLine(raw)
	if !ok {
		t.Fatal("expected text")
	}
	if !strings.Contains(got, "\uFFFD") {
		t.Errorf("expected replacement character, got %q", got)
	}
}

func TestIsStatusLine(t *testing.T) {
	if !IsStatusLine("STATUS: OK") {
		t.Error("STATUS: line not recognized")
	}
	if IsStatusLine("LOG: STATUS: OK") {
		t.Error("prefix must be at line start")
	}
}

// ============================================================
// Command Tests
// ============================================================

func TestCommands(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"target rpm", SetTargetRPM(1500), "R1500"},
		{"target rpm clamped", SetTargetRPM(-20), "R0"},
		{"start wheel", Wheel(true), "S1"},
		{"stop wheel", Wheel(false), "S0"},
		{"emergency", CmdEmergencyStop, "E"},
		{"reset emergency", CmdResetEmergency, "X"},
		{"query", CmdQueryStatus, "?"},
		{"gimbal angle", SetGimbalAngle(12.34), "A12.3"},
		{"gimbal angle negative", SetGimbalAngle(-5), "A-5.0"},
		{"start balancing", Balancing(true), "B1"},
		{"stop balancing", Balancing(false), "B0"},
		{"balancing pid", SetBalancingPID(2.5, 0.1234, 0.75, 0.05), "K2.50,0.123,0.75,0.050"},
		{"wheel pid", SetWheelPID(0.002, 0.0001, 1.23456789), "WK0.002,0.0001,1.23457"},
		{"washout", SetWashoutGain(0.0456), "W0.046"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, tt.got)
			}
		})
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateTelemetry_Clean(t *testing.T) {
	if errs := ValidateTelemetry(sampleTelemetry()); len(errs) != 0 {
		t.Errorf("expected no anomalies, got %v", errs)
	}
}

func TestValidateTelemetry_Anomalies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Telemetry)
		want   AnomalyType
	}{
		{"nan roll", func(t *Telemetry) { t.Roll = float32(math.NaN()) }, AnomalyNonFinite},
		{"inf gain", func(t *Telemetry) { t.WheelKp = float32(math.Inf(-1)) }, AnomalyNonFinite},
		{"high rpm", func(t *Telemetry) { t.Wheel1RPM = 12000 }, AnomalyHighRPM},
		{"negative rpm", func(t *Telemetry) { t.Wheel2RPM = -10001 }, AnomalyHighRPM},
		{"pwm", func(t *Telemetry) { t.Wheel1PWM = 150 }, AnomalyInvalidPWM},
		{"flag", func(t *Telemetry) { t.Balancing = 7 }, AnomalyInvalidFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel := sampleTelemetry()
			tt.mutate(tel)
			errs := ValidateTelemetry(tel)
			if len(errs) != 1 {
				t.Fatalf("expected 1 anomaly, got %d: %v", len(errs), errs)
			}
			if errs[0].Type != tt.want {
				t.Errorf("expected %v, got %v", tt.want, errs[0].Type)
			}
			if errs[0].Error() == "" {
				t.Error("empty message")
			}
		})
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatTelemetry(t *testing.T) {
	out := FormatTelemetry(sampleTelemetry(), ChecksumWithMagic)
	for _, want := range []string{"t=123456ms", "magic incl", "rpm1=2950", "Balance: ON", "0b00000101"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatChecksumError(t *testing.T) {
	out := FormatChecksumError(&ChecksumError{Expected: 0x12, WithMagic: 0xAB, WithoutMagic: 0x54})
	if out != "CHECKSUM FAIL: got=0x12 calc_full=0xAB calc_nomagic=0x54" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0xAA, 0x55, 0x01}); got != "AA 55 01" {
		t.Errorf("unexpected output %q", got)
	}
}
