// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
)

const (
	readBufferSize  = 4096
	eventBufferSize = 256
	readErrorPause  = 100 * time.Millisecond
	idleWake        = time.Hour
)

// Snapshot is a copy of supervisor state readable from any goroutine
type Snapshot struct {
	State     State
	Status    string
	Port      string
	Baud      int
	Session   uint64
	Connected bool
	Stats     cmg.Statistics
	Dropped   uint64
}

type readResult struct {
	session uint64
	data    []byte
	err     error
}

// Loop runs a Supervisor on a single goroutine.
//
// Every open port gets its own reader goroutine that posts chunks back to the
// loop. External callers reach the supervisor through Do and Post. Events are
// published on a buffered channel; TelemetryUpdated events are dropped when
// the consumer falls behind, every other event blocks until delivered.
type Loop struct {
	sup *Supervisor
	log zerolog.Logger

	events chan Event
	inbox  chan func(*Supervisor)
	reads  chan readResult
	done   chan struct{}

	dropped  atomic.Uint64
	snapshot atomic.Pointer[Snapshot]
}

// NewLoop creates a loop around a new Supervisor. cfg.Sink and cfg.Spawn are
// owned by the loop and must be left nil.
func NewLoop(cfg Config) *Loop {
	l := &Loop{
		events: make(chan Event, eventBufferSize),
		inbox:  make(chan func(*Supervisor)),
		reads:  make(chan readResult, 16),
		done:   make(chan struct{}),
		log:    zerolog.Nop(),
	}
	if cfg.Logger != nil {
		l.log = cfg.Logger.With().Str("component", "loop").Logger()
	}

	cfg.Sink = l.publish
	cfg.Spawn = l.startReader
	l.sup = NewSupervisor(cfg)
	l.refresh()
	return l
}

// Events returns the event channel. It is closed when Run returns.
func (l *Loop) Events() <-chan Event {
	return l.events
}

// Dropped returns the number of telemetry events dropped for a slow consumer
func (l *Loop) Dropped() uint64 {
	return l.dropped.Load()
}

// Snapshot returns the supervisor state as of the last loop iteration
func (l *Loop) Snapshot() Snapshot {
	snap := *l.snapshot.Load()
	snap.Dropped = l.dropped.Load()
	return snap
}

// Run drives the supervisor until ctx is cancelled, then disconnects
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.events)
	defer close(l.done)

	l.sup.RefreshPorts()

	wake := time.NewTimer(idleWake)
	defer wake.Stop()

	for {
		wake.Reset(l.untilNextDeadline())

		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()

		case fn := <-l.inbox:
			fn(l.sup)

		case r := <-l.reads:
			if r.err != nil {
				l.sup.HandleError(r.session, r.err)
			} else {
				l.sup.HandleData(r.session, r.data)
			}

		case now := <-wake.C:
			l.sup.Advance(now)
		}
		l.refresh()
	}
}

// Do runs fn on the loop goroutine and waits for it to finish
func (l *Loop) Do(ctx context.Context, fn func(*Supervisor)) error {
	finished := make(chan struct{})
	wrapped := func(s *Supervisor) {
		defer close(finished)
		fn(s)
	}

	select {
	case l.inbox <- wrapped:
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn for the loop goroutine without waiting. It returns false
// once the loop has stopped.
func (l *Loop) Post(fn func(*Supervisor)) bool {
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *Loop) untilNextDeadline() time.Duration {
	deadline, ok := l.sup.NextDeadline()
	if !ok {
		return idleWake
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return d
}

func (l *Loop) refresh() {
	l.snapshot.Store(&Snapshot{
		State:     l.sup.State(),
		Status:    l.sup.Status(),
		Port:      l.sup.PortName(),
		Baud:      l.sup.BaudRate(),
		Session:   l.sup.Session(),
		Connected: l.sup.Connected(),
		Stats:     l.sup.Stats(),
	})
}

// shutdown disconnects without publishing to a consumer that may be gone
func (l *Loop) shutdown() {
	l.sup.sink = func(Event) {}
	l.sup.Disconnect()
}

// publish is the supervisor sink; it runs on the loop goroutine
func (l *Loop) publish(e Event) {
	if _, ok := e.(TelemetryUpdated); ok {
		select {
		case l.events <- e:
		default:
			l.dropped.Add(1)
		}
		return
	}

	select {
	case l.events <- e:
	case <-l.done:
	}
}

// startReader reads port until it fails fatally or the loop stops
func (l *Loop) startReader(session uint64, port Port) {
	go func() {
		log := l.log.With().Uint64("session", session).Logger()
		log.Debug().Msg("reader started")
		defer log.Debug().Msg("reader stopped")

		buf := make([]byte, readBufferSize)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if !l.post(readResult{session: session, data: data}) {
					return
				}
			}
			if err == nil {
				continue
			}
			if IsTimeout(err) {
				continue
			}
			if !l.post(readResult{session: session, err: err}) {
				return
			}
			if IsFatal(err) {
				return
			}
			// Non-fatal errors repeat on a broken port; don't spin on them
			select {
			case <-time.After(readErrorPause):
			case <-l.done:
				return
			}
		}
	}()
}

func (l *Loop) post(r readResult) bool {
	select {
	case l.reads <- r:
		return true
	case <-l.done:
		return false
	}
}
