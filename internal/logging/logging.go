// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the zerolog logger shared by every command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv overrides the configured level when set
const LevelEnv = "CMGSTAT_LOG_LEVEL"

// Options select where and how log records are written
type Options struct {
	Level  string // trace, debug, info, warn, error; empty means info
	Format string // console or json
	File   string // append to this file instead of Out
	Out    io.Writer
	// Discard drops every record unless File is set. TUI commands use it so
	// log output does not tear the screen.
	Discard bool
}

// New builds a logger and installs it as the global zerolog logger. The
// returned closer releases the log file, if one was opened.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var out io.Writer = os.Stderr
	if opts.Out != nil {
		out = opts.Out
	}
	var closer io.Closer = nopCloser{}

	switch {
	case opts.File != "":
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = f
	case opts.Discard:
		out = io.Discard
	}

	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.File != "",
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", "cmgstat").Logger()
	log.Logger = logger
	return logger, closer, nil
}

func parseLevel(configured string) (zerolog.Level, error) {
	value := strings.TrimSpace(configured)
	if env := strings.TrimSpace(os.Getenv(LevelEnv)); env != "" {
		value = env
	}
	if value == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", value, err)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
