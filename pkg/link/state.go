// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link keeps a logical connection to a CMG device alive across
// physical disconnects.
//
// A Supervisor owns the open transport, feeds received bytes through a
// cmg.Demultiplexer and drives the connection state machine with two logical
// timers: a periodic reconnect timer and a single-shot liveness timer. The
// Supervisor is single-threaded; Loop runs it on one goroutine and bridges
// goroutine-based transports to it.
package link

// State is the logical connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting         // port open, no valid frame yet
	StateConnected          // at least one frame decoded since open
	StateLost               // device vanished, auto-reconnect running
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}
