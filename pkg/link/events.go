// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "github.com/Thermoquad/cmgstat/pkg/cmg"

// Event is a notification emitted by the Supervisor
type Event interface {
	event()
}

// EventSink receives events in emission order
type EventSink func(Event)

// ConnectionChanged reports a new state or status string
type ConnectionChanged struct {
	State     State
	Status    string
	Connected bool
}

// PortsChanged reports a different set of available ports
type PortsChanged struct {
	Ports []string
}

// TelemetryUpdated carries a copy of the newest decoded frame
type TelemetryUpdated struct {
	Telemetry cmg.Telemetry
	Variant   cmg.ChecksumVariant
	Frame     uint64 // frame number within the session, starting at 1
}

// LogLine is a human-readable line for the event log
type LogLine struct {
	Text string
}

// StatusLine is a firmware STATUS: line
type StatusLine struct {
	Text string
}

func (ConnectionChanged) event() {}
func (PortsChanged) event()      {}
func (TelemetryUpdated) event()  {}
func (LogLine) event()           {}
func (StatusLine) event()        {}
