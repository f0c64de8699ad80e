// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

func scrape(t *testing.T, sample SampleFunc) string {
	t.Helper()
	srv := httptest.NewServer(Handler(NewRegistry(sample)))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectorExportsCounters(t *testing.T) {
	stats := cmg.Statistics{
		ValidFrames:        12,
		WithMagicFrames:    10,
		WithoutMagicFrames: 2,
		ChecksumFailures:   3,
		BytesReceived:      1500,
		TextLines:          4,
		StatusLines:        1,
		Overflows:          1,
		LastUpdateTime:     time.Unix(1700000000, 0),
	}
	body := scrape(t, func() Sample {
		return Sample{Stats: stats, State: link.StateConnected, Port: "/dev/ttyUSB0", Session: 2, Dropped: 5}
	})

	for _, want := range []string{
		`cmgstat_link_frames_total{variant="with_magic"} 10`,
		`cmgstat_link_frames_total{variant="without_magic"} 2`,
		`cmgstat_link_checksum_failures_total 3`,
		`cmgstat_link_bytes_received_total 1500`,
		`cmgstat_link_text_lines_total 4`,
		`cmgstat_link_status_lines_total 1`,
		`cmgstat_link_buffer_overflows_total 1`,
		`cmgstat_link_dropped_events_total 5`,
		`cmgstat_connection_state{port="/dev/ttyUSB0",state="CONNECTED"} 1`,
		`cmgstat_connection_state{port="/dev/ttyUSB0",state="LOST"} 0`,
		`cmgstat_connection_session 2`,
		`cmgstat_link_last_frame_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in scrape output", want)
		}
	}
}

func TestCollectorOmitsLastFrameBeforeFirstFrame(t *testing.T) {
	body := scrape(t, func() Sample {
		return Sample{State: link.StateDisconnected}
	})
	if strings.Contains(body, "cmgstat_link_last_frame_timestamp_seconds ") {
		t.Fatal("last frame gauge exported without frames")
	}
	if !strings.Contains(body, `cmgstat_connection_state{port="",state="DISCONNECTED"} 1`) {
		t.Fatal("expected disconnected state gauge")
	}
}
