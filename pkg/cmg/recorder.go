// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmg

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// RecordHeader is the column layout of recorded CSV files
var RecordHeader = []string{
	"time", "timestamp_ms", "roll_angle", "roll_velocity",
	"gimbal_angle", "gimbal_velocity", "torque", "wheel_rpm1", "wheel_rpm2",
}

// RecordFileName returns the CSV file name for a recording started at t
func RecordFileName(t time.Time) string {
	return t.Format("2006-01-02_150405") + ".csv"
}

// Recorder writes one CSV row per telemetry frame.
//
// The time column is the device time elapsed since the first recorded frame,
// formatted MM:SS.mmm.
type Recorder struct {
	w      *csv.Writer
	closer io.Closer
	path   string

	started bool
	startTs uint32
	rows    uint64
}

// NewRecorder creates dir if needed and starts a new recording file in it
func NewRecorder(dir string, now time.Time) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	path := filepath.Join(dir, RecordFileName(now))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}

	r, err := NewRecorderWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	r.path = path
	return r, nil
}

// NewRecorderWriter starts a recording on an arbitrary writer.
// The header row is written immediately.
func NewRecorderWriter(w io.Writer) (*Recorder, error) {
	r := &Recorder{w: csv.NewWriter(w)}
	if err := r.w.Write(RecordHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return r, nil
}

// Path returns the file path, empty for writer-backed recorders
func (r *Recorder) Path() string {
	return r.path
}

// Rows returns the number of data rows written
func (r *Recorder) Rows() uint64 {
	return r.rows
}

// Record appends one row for t
func (r *Recorder) Record(t *Telemetry) error {
	if !r.started {
		r.started = true
		r.startTs = t.TimestampMs
	}

	row := []string{
		formatElapsed(t.TimestampMs - r.startTs),
		strconv.FormatUint(uint64(t.TimestampMs), 10),
		formatFloat4(float64(t.Roll)),
		formatFloat4(float64(t.GyroX)),
		formatFloat4(float64(t.GimbalAngle)),
		formatFloat4(float64(t.GimbalVelocity)),
		formatFloat4(t.Torque()),
		strconv.FormatInt(int64(t.Wheel1RPM), 10),
		strconv.FormatInt(int64(t.Wheel2RPM), 10),
	}
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	r.rows++
	return nil
}

// Flush writes buffered rows to the underlying writer
func (r *Recorder) Flush() error {
	r.w.Flush()
	return r.w.Error()
}

// Close flushes and closes the recording file
func (r *Recorder) Close() error {
	err := r.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}

// formatElapsed renders milliseconds as MM:SS.mmm; minutes wrap at 100
func formatElapsed(ms uint32) string {
	mins := (ms / 60000) % 100
	secs := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d.%03d", mins, secs, ms%1000)
}

func formatFloat4(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
