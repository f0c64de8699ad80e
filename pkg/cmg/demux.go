// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import "errors"

// UnitKind identifies what the demultiplexer extracted from the stream
type UnitKind int

const (
	UnitText UnitKind = iota
	UnitTelemetry
	UnitChecksumFailure
	UnitOverflow
)

// String returns the unit kind name
func (k UnitKind) String() string {
	switch k {
	case UnitText:
		return "TEXT"
	case UnitTelemetry:
		return "TELEMETRY"
	case UnitChecksumFailure:
		return "CHECKSUM_FAILURE"
	case UnitOverflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// Unit is one recognizable element of the receive stream
type Unit struct {
	Kind UnitKind

	// UnitText
	Text   string
	Status bool // text starts with STATUS:

	// UnitTelemetry
	Telemetry *Telemetry
	Variant   ChecksumVariant

	// UnitChecksumFailure
	Err *ChecksumError

	// UnitOverflow: bytes kept after trimming (0 when the buffer was cleared)
	Kept int
}

// Demultiplexer splits a chunked byte stream into text lines and telemetry frames.
//
// It owns the receive buffer and the carry fragment. It is not safe for
// concurrent use.
type Demultiplexer struct {
	buf   []byte
	carry []byte
	stats *Statistics
}

// NewDemultiplexer creates a demultiplexer that records into stats.
// A nil stats allocates a private tracker.
func NewDemultiplexer(stats *Statistics) *Demultiplexer {
	if stats == nil {
		stats = NewStatistics()
	}
	return &Demultiplexer{stats: stats}
}

// Stats returns the statistics tracker the demultiplexer records into
func (d *Demultiplexer) Stats() *Statistics {
	return d.stats
}

// Reset discards the receive buffer and the carry fragment
func (d *Demultiplexer) Reset() {
	d.buf = nil
	d.carry = nil
}

// Buffered returns the number of bytes waiting in the receive buffer
func (d *Demultiplexer) Buffered() int {
	return len(d.buf)
}

// Carry returns a copy of the pending carry fragment
func (d *Demultiplexer) Carry() []byte {
	return append([]byte(nil), d.carry...)
}

// Ingest appends data to the receive buffer and extracts every complete unit.
//
// Units are returned in wire order. When the buffer grows past MaxBufferSize
// it is trimmed instead of drained and a single UnitOverflow is returned; the
// remaining bytes are drained on the next call.
func (d *Demultiplexer) Ingest(data []byte) []Unit {
	d.stats.RecordBytes(len(data))
	d.buf = append(d.buf, data...)

	if len(d.buf) > MaxBufferSize {
		kept := d.trimOverflow()
		d.carry = nil
		d.stats.Overflows++
		return []Unit{{Kind: UnitOverflow, Kept: kept}}
	}

	return d.drain(nil)
}

// drain extracts units until no complete unit remains
func (d *Demultiplexer) drain(units []Unit) []Unit {
	for len(d.buf) > 0 {
		nl, magic := scanBuffer(d.buf)

		if nl < 0 && magic < 0 {
			break
		}

		// Text path: the newline comes before any marker
		if nl >= 0 && (magic < 0 || nl < magic) {
			line := d.takeLine(nl)
			if text, ok := ClassifyLine(line); ok {
				status := IsStatusLine(text)
				d.stats.TextLines++
				if status {
					d.stats.StatusLines++
				}
				units = append(units, Unit{Kind: UnitText, Text: text, Status: status})
			} else if len(line) > 0 {
				d.stats.DiscardedLines++
			}
			continue
		}

		// Binary path: everything before the marker is prefix noise
		if magic > 0 {
			d.keepPrefix(d.buf[:magic])
			d.consume(magic)
		}

		if len(d.buf) < FrameSize {
			break
		}

		t, variant, err := DecodeFrame(d.buf[:FrameSize])
		if err != nil {
			var csErr *ChecksumError
			if !errors.As(err, &csErr) {
				csErr = &ChecksumError{Expected: d.buf[ChecksumOffset]}
			}
			d.stats.RecordChecksumFailure()
			units = append(units, Unit{Kind: UnitChecksumFailure, Err: csErr})
			d.consume(1)
			continue
		}

		d.stats.RecordFrame(variant)
		units = append(units, Unit{Kind: UnitTelemetry, Telemetry: t, Variant: variant})
		d.consume(FrameSize)
	}

	return units
}

// takeLine removes the line ending at index nl (and the newline itself) from
// the buffer and returns it with any carry fragment prepended.
func (d *Demultiplexer) takeLine(nl int) []byte {
	line := make([]byte, 0, len(d.carry)+nl)
	line = append(line, d.carry...)
	line = append(line, d.buf[:nl]...)
	d.carry = nil
	d.consume(nl + 1)
	return line
}

// keepPrefix decides whether bytes before a marker are a cut text line
func (d *Demultiplexer) keepPrefix(prefix []byte) {
	if !looksLikeText(prefix) {
		d.carry = nil
		d.stats.NoiseBytes += uint64(len(prefix))
		return
	}
	if len(d.carry)+len(prefix) > MaxCarrySize {
		d.carry = nil
	}
	if len(prefix) > MaxCarrySize {
		d.stats.NoiseBytes += uint64(len(prefix))
		return
	}
	d.carry = append(d.carry, prefix...)
}

// consume drops n bytes from the front of the buffer
func (d *Demultiplexer) consume(n int) {
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
}

// trimOverflow keeps the buffer from the last marker in the trailing window,
// or clears it. Returns the number of bytes kept.
func (d *Demultiplexer) trimOverflow() int {
	searchStart := len(d.buf) - OverflowSearchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(d.buf) - 2; i >= searchStart; i-- {
		if d.buf[i] == MagicByte1 && d.buf[i+1] == MagicByte2 {
			d.buf = append([]byte(nil), d.buf[i:]...)
			return len(d.buf)
		}
	}
	d.buf = nil
	return 0
}

// scanBuffer returns the index of the first newline and of the first complete
// magic marker, or -1. A marker byte in the last position is not a marker yet.
// Scanning stops at whichever comes first since only the earlier one matters.
func scanBuffer(b []byte) (nl, magic int) {
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			return i, -1
		}
		if b[i] == MagicByte1 && i+1 < len(b) && b[i+1] == MagicByte2 {
			return -1, i
		}
	}
	return -1, -1
}
