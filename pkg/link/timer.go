// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "time"

// Timer is a logical deadline advanced by an external clock.
//
// Arming an armed timer restarts it; cancelling an idle timer is a no-op.
type Timer struct {
	interval time.Duration
	periodic bool
	armed    bool
	deadline time.Time
}

// NewTimer creates an idle timer
func NewTimer(interval time.Duration, periodic bool) *Timer {
	return &Timer{interval: interval, periodic: periodic}
}

// Arm starts the timer at now
func (t *Timer) Arm(now time.Time) {
	t.armed = true
	t.deadline = now.Add(t.interval)
}

// Cancel stops the timer
func (t *Timer) Cancel() {
	t.armed = false
}

// Armed reports whether the timer is running
func (t *Timer) Armed() bool {
	return t.armed
}

// Deadline returns the next expiry; only meaningful while armed
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Interval returns the timer period
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Fire reports whether the timer expired at now. A periodic timer re-arms
// itself from now, a single-shot timer goes idle.
func (t *Timer) Fire(now time.Time) bool {
	if !t.armed || now.Before(t.deadline) {
		return false
	}
	if t.periodic {
		t.deadline = now.Add(t.interval)
	} else {
		t.armed = false
	}
	return true
}
