// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	level     logLevel
}

type logLevel int

const (
	levelInfo logLevel = iota
	levelStatus
	levelWarning
	levelError
)

// styles holds the lipgloss styles shared by the TUI panels
type styles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	label      lipgloss.Style
	value      lipgloss.Style
	err        lipgloss.Style
	warning    lipgloss.Style
	status     lipgloss.Style
	box        lipgloss.Style
	focusedBox lipgloss.Style
}

func newStyles() styles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Bold(true),
		box:        box,
		focusedBox: box.BorderForeground(lipgloss.Color("12")),
	}
}

// field renders "label value" with the shared styles
func (s styles) field(label string, value string) string {
	return s.label.Render(label) + " " + s.value.Render(value)
}

// renderLogEntry formats one event log line
func (s styles) renderLogEntry(e logEntry) string {
	icon, style := "i", s.header
	switch e.level {
	case levelStatus:
		icon, style = ">", s.status
	case levelWarning:
		icon, style = "!", s.warning
	case levelError:
		icon, style = "x", s.err
	}
	return fmt.Sprintf("%s %s %s",
		s.header.Render(e.timestamp.Format("15:04:05.000")),
		style.Render(icon),
		e.message)
}

// formatUptime formats a device clock in milliseconds, largest unit first
func formatUptime(ms uint64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	units := []struct {
		suffix string
		size   uint64
	}{
		{"d", 24 * 60 * 60 * 1000},
		{"h", 60 * 60 * 1000},
		{"m", 60 * 1000},
		{"s", 1000},
	}

	var parts []string
	rest := ms
	for _, u := range units {
		if n := rest / u.size; n > 0 || len(parts) > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
			rest %= u.size
		}
	}
	return strings.Join(parts, " ")
}

// classifyLogLine picks a severity for a supervisor log line
func classifyLogLine(text string) logLevel {
	switch {
	case strings.HasPrefix(text, "CHECKSUM FAIL"),
		strings.HasPrefix(text, "Serial error"),
		strings.HasPrefix(text, "Connection failed"):
		return levelError
	case strings.HasPrefix(text, "Buffer overflow"),
		strings.HasPrefix(text, "Device lost"),
		strings.HasPrefix(text, "No data received"),
		strings.HasPrefix(text, "Not connected"):
		return levelWarning
	}
	return levelInfo
}
