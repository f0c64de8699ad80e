// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"fmt"
	"time"
)

// Statistics tracks link counters for one connection session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	ValidFrames      uint64
	ChecksumFailures uint64
	BytesReceived    uint64
	TextLines        uint64
	StatusLines      uint64
	DiscardedLines   uint64
	Overflows        uint64
	ResyncBytes      uint64 // bytes skipped after checksum failures
	NoiseBytes       uint64 // non-text prefix bytes dropped before a marker

	// Diagnostics
	WithMagicFrames    uint64
	WithoutMagicFrames uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // checksum failures/sec
	ByteRate  float64 // bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordFrame counts a decoded frame
func (s *Statistics) RecordFrame(variant ChecksumVariant) {
	s.ValidFrames++
	switch variant {
	case ChecksumWithMagic:
		s.WithMagicFrames++
	case ChecksumWithoutMagic:
		s.WithoutMagicFrames++
	}
	s.LastUpdateTime = time.Now()
}

// RecordChecksumFailure counts a rejected frame and the byte skipped for resync
func (s *Statistics) RecordChecksumFailure() {
	s.ChecksumFailures++
	s.ResyncBytes++
}

// RecordBytes counts raw bytes received from the transport
func (s *Statistics) RecordBytes(n int) {
	s.BytesReceived += uint64(n)
}

// CalculateRates calculates frame, error and byte rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.ValidFrames) / elapsed
		s.ErrorRate = float64(s.ChecksumFailures) / elapsed
		s.ByteRate = float64(s.BytesReceived) / elapsed
	}
}

// Snapshot returns a copy safe to hand to another goroutine
func (s *Statistics) Snapshot() Statistics {
	return *s
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	candidates := s.ValidFrames + s.ChecksumFailures
	var validPercent, failPercent float64
	if candidates > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(candidates)
		failPercent = float64(s.ChecksumFailures) * 100.0 / float64(candidates)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Received:  %8d\n", s.BytesReceived)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	if s.WithMagicFrames > 0 && s.WithoutMagicFrames > 0 {
		result += fmt.Sprintf("  Magic incl:       %5d\n", s.WithMagicFrames)
		result += fmt.Sprintf("  Magic excl:       %5d\n", s.WithoutMagicFrames)
	}
	if s.ChecksumFailures > 0 {
		result += fmt.Sprintf("Checksum Fails:  %8d (%.1f%%)\n", s.ChecksumFailures, failPercent)
	}
	result += fmt.Sprintf("Text Lines:      %8d\n", s.TextLines)
	if s.StatusLines > 0 {
		result += fmt.Sprintf("  Status Lines:     %5d\n", s.StatusLines)
	}
	if s.DiscardedLines > 0 {
		result += fmt.Sprintf("Discarded Lines: %8d\n", s.DiscardedLines)
	}
	if s.NoiseBytes > 0 {
		result += fmt.Sprintf("Noise Bytes:     %8d\n", s.NoiseBytes)
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Buffer Overflows:%8d\n", s.Overflows)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += fmt.Sprintf("Byte Rate:       %8.0f bytes/sec\n", s.ByteRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = Statistics{}
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
}
