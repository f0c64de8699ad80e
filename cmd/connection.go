// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Thermoquad/cmgstat/internal/logging"
	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

// passwordEnv holds the WebSocket password for non-interactive use
const passwordEnv = "CMGSTAT_PASSWORD"

// target is a resolved connection: where to connect and through what
type target struct {
	transport link.Transport
	port      string
	baud      int
	info      string
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// resolveTarget picks the serial or WebSocket transport from the settings
func resolveTarget() (target, error) {
	if settings.IsWebSocket() {
		password := ""
		if settings.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return target{}, err
			}
		}

		ws := &link.WebSocketTransport{
			URL:           settings.URL,
			Username:      settings.Username,
			Password:      password,
			SkipSSLVerify: settings.NoSSLVerify,
		}
		return target{
			transport: ws,
			port:      settings.URL,
			baud:      settings.Baud,
			info:      fmt.Sprintf("WebSocket: %s", settings.URL),
		}, nil
	}

	if settings.Port != "" {
		return target{
			transport: link.SerialTransport{},
			port:      settings.Port,
			baud:      settings.Baud,
			info:      fmt.Sprintf("Serial: %s @ %d baud", settings.Port, settings.Baud),
		}, nil
	}

	return target{}, errors.New("either --port or --url must be specified")
}

// open opens the target directly, without supervision
func (t target) open() (link.Port, error) {
	return t.transport.Open(t.port, t.baud)
}

// newLoop creates a supervised connection loop for the target. onFrame, if
// set, sees every decoded frame on the loop goroutine.
func (t target) newLoop(logger *zerolog.Logger, onFrame func(*cmg.Telemetry)) *link.Loop {
	return link.NewLoop(link.Config{
		Transport:         t.transport,
		ReconnectInterval: settings.Reconnect,
		LivenessTimeout:   settings.Liveness,
		OnFrame:           onFrame,
		Logger:            logger,
	})
}

// newLogger builds the zerolog logger from the settings. Full-screen commands
// pass quiet so records only reach a log file.
func newLogger(quiet bool) (zerolog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:   settings.LogLevel,
		Format:  settings.LogFormat,
		File:    settings.LogFile,
		Discard: quiet,
	})
}

// exitWith closes c and terminates with code
func exitWith(code int, c io.Closer) {
	if c != nil {
		c.Close()
	}
	os.Exit(code)
}
