// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling the CMG balancer",
	Long: `Control the CMG balancer via an interactive terminal UI.

Features:
  - Live attitude, wheel, gimbal and controller gain panels
  - Wheel, balancing and emergency stop keys
  - Target RPM and gimbal angle adjustment
  - Raw command line for gain tuning (press :)
  - Statistics bar and scrollable event log
  - Automatic reconnection on connection loss

Supports both serial and WebSocket connections. Log records go to
--log-file only, so the screen is left to the TUI.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	tgt, err := resolveTarget()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(true)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loop := tgt.newLoop(&logger, nil)
	p := tea.NewProgram(initialControlModel(ctx, loop, tgt), tea.WithAltScreen())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	// Bridge loop events into the program until the loop closes the channel
	g.Go(func() error {
		for e := range loop.Events() {
			p.Send(linkEventMsg{event: e})
		}
		return nil
	})

	logger.Info().Str("target", tgt.info).Msg("control session started")

	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("connection loop failed")
	}
	if runErr != nil {
		return fmt.Errorf("error running TUI: %w", runErr)
	}

	logger.Info().Msg("control session ended")
	return nil
}
