// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "io"

// Port is an open byte stream to the device
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Transport lists and opens ports.
//
// Open must return promptly; reads happen on a separate goroutine and a
// Close from another goroutine must unblock a pending Read.
type Transport interface {
	Ports() ([]string, error)
	Open(name string, baud int) (Port, error)
}
