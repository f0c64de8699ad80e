// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketTransport reaches the device through a serial-to-WebSocket bridge.
//
// The bridge exposes exactly one port, named by its URL. The baud rate is
// fixed by the bridge and ignored here.
type WebSocketTransport struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool

	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
}

// Ports returns the bridge URL as the only port
func (w *WebSocketTransport) Ports() ([]string, error) {
	return []string{w.URL}, nil
}

// Open dials the bridge with HTTP Basic auth
func (w *WebSocketTransport) Open(name string, _ int) (Port, error) {
	u, err := url.Parse(name)
	if err != nil {
		return nil, &OpenError{Port: name, Err: fmt.Errorf("invalid URL: %w", err)}
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, &OpenError{Port: name, Err: fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: w.handshakeTimeout(),
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: w.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if w.Username != "" && w.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.Username + ":" + w.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.dialTimeout())
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, name, headers)
	if err != nil {
		if resp != nil {
			return nil, &OpenError{Port: name, Err: fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)}
		}
		return nil, &OpenError{Port: name, Err: err}
	}

	return NewWebSocketPort(conn), nil
}

func (w *WebSocketTransport) handshakeTimeout() time.Duration {
	if w.HandshakeTimeout > 0 {
		return w.HandshakeTimeout
	}
	return 10 * time.Second
}

func (w *WebSocketTransport) dialTimeout() time.Duration {
	if w.DialTimeout > 0 {
		return w.DialTimeout
	}
	return 15 * time.Second
}

// WebSocketPort adapts a message-oriented WebSocket connection to a byte stream
type WebSocketPort struct {
	conn *websocket.Conn

	// read side, owned by the reader goroutine
	buf       []byte
	bufOffset int
	closed    bool

	writeMu sync.Mutex
}

// NewWebSocketPort wraps an established connection
func NewWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	return &WebSocketPort{conn: conn}
}

func (w *WebSocketPort) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// The bridge forwards raw serial bytes; control frames are handled
		// by the library
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}

		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Ping sends a WebSocket ping control frame
func (w *WebSocketPort) Ping(timeout time.Duration) error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (w *WebSocketPort) Close() error {
	return w.conn.Close()
}
