// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"closed network", net.ErrClosed, true},
		{"websocket closed", ErrConnectionClosed, true},
		{"websocket close frame", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"io error", errors.New("read /dev/ttyUSB0: input/output error"), true},
		{"no such device", errors.New("open /dev/ttyUSB0: no such device"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"macos unplug", errors.New("Device not configured"), true},
		{"framing", errors.New("framing error"), false},
		{"timeout", os.ErrDeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(os.ErrDeadlineExceeded) {
		t.Error("deadline exceeded should be a timeout")
	}
	if !IsTimeout(fmt.Errorf("read: %w", timeoutErr{})) {
		t.Error("net.Error timeout should be a timeout")
	}
	if IsTimeout(io.EOF) || IsTimeout(nil) {
		t.Error("EOF and nil are not timeouts")
	}
}

func TestOpenError(t *testing.T) {
	cause := errors.New("busy")
	err := &OpenError{Port: "COM3", Err: cause}
	if err.Error() != "failed to open COM3: busy" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("OpenError should unwrap to its cause")
	}
}
