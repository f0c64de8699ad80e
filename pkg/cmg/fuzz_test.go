// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"math"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomTelemetry fills every field with random bits; NaN floats become 0 so
// records stay comparable
func randomTelemetry(rng *rand.Rand) *Telemetry {
	f := func() float32 {
		v := math.Float32frombits(rng.Uint32())
		if math.IsNaN(float64(v)) {
			return 0
		}
		return v
	}
	i := func() int32 { return int32(rng.Uint32()) }
	b := func() uint8 { return uint8(rng.Intn(256)) }
	return &Telemetry{
		TimestampMs: rng.Uint32(),
		Roll:        f(), Pitch: f(), Yaw: f(),
		GyroX: f(), GyroY: f(), GyroZ: f(),
		AccelX: f(), AccelY: f(),
		TargetRPM: i(), Wheel1RPM: i(), Wheel2RPM: i(),
		Wheel1PWM: f(), Wheel2PWM: f(), WheelState: b(),
		GimbalAngle: f(), GimbalTarget: f(), GimbalVelocity: f(),
		Gimbal1: f(), Gimbal2: f(),
		Balancing: b(), BalKp: f(), BalKi: f(), BalKd: f(), WashoutGain: f(),
		WheelKp: f(), WheelKi: f(), WheelKd: f(),
		CommBits: b(),
	}
}

// randomLine builds a printable line without surrounding whitespace
func randomLine(rng *rand.Rand) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789=:.-_"
	prefixes := []string{"LOG: ", "STATUS: ", ""}
	n := 1 + rng.Intn(60)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return prefixes[rng.Intn(len(prefixes))] + string(buf)
}

// ingestChunked feeds data in random chunk sizes and collects the units
func ingestChunked(rng *rand.Rand, d *Demultiplexer, data []byte) []Unit {
	var units []Unit
	for len(data) > 0 {
		n := 1 + rng.Intn(64)
		if n > len(data) {
			n = len(data)
		}
		units = append(units, d.Ingest(data[:n])...)
		data = data[n:]
	}
	return units
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzz_DecodeRandomFrames(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		frame := make([]byte, FrameSize)
		rng.Read(frame)
		if rng.Intn(2) == 0 {
			frame[0] = MagicByte1
			frame[1] = MagicByte2
		}

		// Must not panic; success requires a matching checksum
		tel, variant, err := DecodeFrame(frame)
		if err == nil {
			withMagic, withoutMagic := frameChecksums(frame)
			if frame[ChecksumOffset] != withMagic && frame[ChecksumOffset] != withoutMagic {
				t.Fatalf("round %d: accepted frame with bad checksum", i)
			}
			if tel == nil || variant == ChecksumNone {
				t.Fatalf("round %d: success without telemetry or variant", i)
			}
		}
	}
}

func TestFuzz_EncodeDecodeRandomTelemetry(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		want := randomTelemetry(rng)
		variant := ChecksumWithMagic
		if rng.Intn(2) == 0 {
			variant = ChecksumWithoutMagic
		}

		frame := EncodeTelemetry(want, variant)
		got, gotVariant, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("round %d: decode error: %v", i, err)
		}
		if gotVariant != variant {
			t.Fatalf("round %d: expected variant %v, got %v", i, variant, gotVariant)
		}

		if !sameFields(got, want) {
			t.Fatalf("round %d: field mismatch:\n got  %+v\n want %+v", i, got, want)
		}
	}
}

// ============================================================
// Demultiplexer Fuzz Tests
// ============================================================

func TestFuzz_DemuxChunkingInvariant(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds < 1 {
		rounds = 1
	}

	for i := 0; i < rounds; i++ {
		type item struct {
			line string
			ts   uint32
		}
		var expected []item
		var stream []byte

		for n := 1 + rng.Intn(40); n > 0; n-- {
			if rng.Intn(2) == 0 {
				line := randomLine(rng)
				stream = append(stream, line...)
				stream = append(stream, '\n')
				expected = append(expected, item{line: line})
			} else {
				tel := randomTelemetry(rng)
				stream = append(stream, EncodeTelemetry(tel, ChecksumVariant(1+rng.Intn(2)))...)
				expected = append(expected, item{ts: tel.TimestampMs})
			}
		}

		d := NewDemultiplexer(nil)
		units := ingestChunked(rng, d, stream)

		if len(units) != len(expected) {
			t.Fatalf("round %d: expected %d units, got %d", i, len(expected), len(units))
		}
		for j, u := range units {
			want := expected[j]
			switch u.Kind {
			case UnitText:
				if want.line == "" || u.Text != want.line {
					t.Fatalf("round %d unit %d: expected %+v, got text %q", i, j, want, u.Text)
				}
				if u.Status != IsStatusLine(want.line) {
					t.Fatalf("round %d unit %d: status flag mismatch", i, j)
				}
			case UnitTelemetry:
				if want.line != "" || u.Telemetry.TimestampMs != want.ts {
					t.Fatalf("round %d unit %d: expected %+v, got frame ts=%d", i, j, want, u.Telemetry.TimestampMs)
				}
			default:
				t.Fatalf("round %d unit %d: unexpected %v", i, j, u.Kind)
			}
		}
		if d.Stats().ChecksumFailures != 0 {
			t.Fatalf("round %d: unexpected checksum failures", i)
		}
	}
}

func TestFuzz_DemuxRandomGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	d := NewDemultiplexer(nil)
	for i := 0; i < rounds; i++ {
		chunk := make([]byte, rng.Intn(512))
		rng.Read(chunk)

		// Sprinkle markers and newlines so every path gets exercised
		for k := rng.Intn(4); k > 0 && len(chunk) > 1; k-- {
			p := rng.Intn(len(chunk) - 1)
			chunk[p] = MagicByte1
			chunk[p+1] = MagicByte2
		}
		if len(chunk) > 0 && rng.Intn(3) == 0 {
			chunk[rng.Intn(len(chunk))] = '\n'
		}

		d.Ingest(chunk)

		if d.Buffered() > MaxBufferSize {
			t.Fatalf("round %d: buffer grew to %d", i, d.Buffered())
		}
		if len(d.Carry()) > MaxCarrySize {
			t.Fatalf("round %d: carry grew to %d", i, len(d.Carry()))
		}
	}
}

func TestFuzz_DemuxRelocksAfterGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds < 1 {
		rounds = 1
	}

	want := sampleTelemetry()
	frame := EncodeTelemetry(want, ChecksumWithMagic)

	for i := 0; i < rounds; i++ {
		garbage := make([]byte, rng.Intn(300))
		rng.Read(garbage)

		// Three copies: garbage can swallow at most the bytes before the
		// first genuine marker plus one false frame, never all of them
		stream := append([]byte(nil), garbage...)
		for c := 0; c < 3; c++ {
			stream = append(stream, frame...)
		}

		d := NewDemultiplexer(nil)
		units := ingestChunked(rng, d, stream)

		decoded := 0
		for _, u := range units {
			if u.Kind == UnitTelemetry && sameFields(u.Telemetry, want) {
				decoded++
			}
		}
		if decoded < 2 {
			t.Fatalf("round %d: only %d genuine frames decoded after %d garbage bytes", i, decoded, len(garbage))
		}
	}
}
