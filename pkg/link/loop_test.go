// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
)

// waitFor reads events until match returns true or the timeout expires
func waitFor(t *testing.T, events <-chan Event, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestLoop_ConnectAndReceive(t *testing.T) {
	transport := &MockTransport{ports: []string{"/dev/ttyUSB0"}}
	loop := NewLoop(Config{Transport: transport})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	var connectErr error
	if err := loop.Do(ctx, func(s *Supervisor) { connectErr = s.Connect("/dev/ttyUSB0", 115200) }); err != nil {
		t.Fatalf("do error: %v", err)
	}
	if connectErr != nil {
		t.Fatalf("connect error: %v", connectErr)
	}

	transport.LastPort().reads <- append([]byte("STATUS: READY\n"), sampleFrame()...)

	waitFor(t, loop.Events(), 2*time.Second, func(e Event) bool {
		s, ok := e.(StatusLine)
		return ok && s.Text == "STATUS: READY"
	})
	e := waitFor(t, loop.Events(), 2*time.Second, func(e Event) bool {
		c, ok := e.(ConnectionChanged)
		return ok && c.Connected
	})
	if e.(ConnectionChanged).Status != "Connected: /dev/ttyUSB0 @ 115200" {
		t.Errorf("unexpected status %q", e.(ConnectionChanged).Status)
	}

	var written string
	loop.Do(ctx, func(s *Supervisor) {
		s.Send("?")
	})
	loop.Do(ctx, func(s *Supervisor) {
		written = transport.LastPort().Written()
	})
	if written != "?\n" {
		t.Errorf("unexpected bytes written %q", written)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	if !transport.LastPort().IsClosed() {
		t.Error("port should be closed on shutdown")
	}
	if loop.Post(func(*Supervisor) {}) {
		t.Error("post should fail after shutdown")
	}
}

func TestLoop_DeviceLossDetectedByReader(t *testing.T) {
	transport := &MockTransport{ports: []string{"/dev/ttyUSB0"}}
	loop := NewLoop(Config{Transport: transport, ReconnectInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Do(ctx, func(s *Supervisor) { s.Connect("/dev/ttyUSB0", 115200) })
	first := transport.LastPort()

	// Closing the port underneath makes the reader see EOF
	first.Close()

	waitFor(t, loop.Events(), 2*time.Second, func(e Event) bool {
		c, ok := e.(ConnectionChanged)
		return ok && c.State == StateLost
	})
	waitFor(t, loop.Events(), 2*time.Second, func(e Event) bool {
		c, ok := e.(ConnectionChanged)
		return ok && c.State == StateConnecting
	})

	if transport.LastPort() == first {
		t.Error("expected a new port after reconnect")
	}
}

func TestLoop_Snapshot(t *testing.T) {
	transport := &MockTransport{ports: []string{"/dev/ttyUSB0"}}
	loop := NewLoop(Config{Transport: transport})

	if snap := loop.Snapshot(); snap.State != StateDisconnected || snap.Status != "Disconnected" {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Do(ctx, func(s *Supervisor) { s.Connect("/dev/ttyUSB0", 115200) })
	transport.LastPort().reads <- sampleFrame()

	// The snapshot is refreshed after the iteration that handled the frame
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := loop.Snapshot()
		if snap.Connected && snap.Stats.ValidFrames == 1 {
			if snap.Port != "/dev/ttyUSB0" || snap.Baud != 115200 || snap.Session != 1 {
				t.Fatalf("unexpected snapshot %+v", snap)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never reported the frame: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoop_OnFrameNotDropped(t *testing.T) {
	const chunks, perChunk = 5, 80

	var csv bytes.Buffer
	recorder, err := cmg.NewRecorderWriter(&csv)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}

	transport := &MockTransport{ports: []string{"/dev/ttyUSB0"}}
	loop := NewLoop(Config{
		Transport: transport,
		OnFrame: func(tel *cmg.Telemetry) {
			if err := recorder.Record(tel); err != nil {
				t.Errorf("record: %v", err)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	loop.Do(ctx, func(s *Supervisor) { s.Connect("/dev/ttyUSB0", 115200) })

	// Nobody reads Events, so most TelemetryUpdated events are dropped
	chunk := bytes.Repeat(sampleFrame(), perChunk)
	for i := 0; i < chunks; i++ {
		transport.LastPort().reads <- chunk
	}

	deadline := time.Now().Add(5 * time.Second)
	for loop.Snapshot().Stats.ValidFrames < chunks*perChunk {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames decoded", loop.Snapshot().Stats.ValidFrames)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if loop.Dropped() == 0 {
		t.Fatal("expected dropped telemetry events without a consumer")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	if err := recorder.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if recorder.Rows() != chunks*perChunk {
		t.Errorf("expected %d recorded rows, got %d", chunks*perChunk, recorder.Rows())
	}
	if lines := strings.Count(csv.String(), "\n"); lines != chunks*perChunk+1 {
		t.Errorf("expected header and %d rows, got %d lines", chunks*perChunk, lines)
	}
}
