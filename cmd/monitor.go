// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/cmgstat/internal/observability"
	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

var (
	showAll       bool
	frameEvery    int
	statsInterval int
	validate      bool
	recordDir     string
	metricsAddr   string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display text and telemetry from the device",
	Long: `Connect to the device and display everything it sends.

Text lines are printed as they arrive; STATUS: lines are highlighted.
Telemetry frames are checked and summarized every --every frames, or printed
one per line with --show-all. A statistics summary is printed every
--stats-interval seconds.

The connection is supervised: an unplugged device is detected and the port is
reopened automatically once it reappears.

Optional outputs:
  --validate       Flag out-of-range telemetry values
  --record DIR     Write every frame to a timestamped CSV in DIR
  --metrics-addr   Serve Prometheus metrics on /metrics

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Print every frame on one line")
	monitorCmd.Flags().IntVar(&frameEvery, "every", 50, "Print a full frame every N frames")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, 0 disables)")
	monitorCmd.Flags().BoolVar(&validate, "validate", false, "Report anomalous telemetry values")
	monitorCmd.Flags().StringVar(&recordDir, "record", "", "Record frames as CSV into this directory")
	monitorCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	tgt, err := resolveTarget()
	if err != nil {
		return err
	}

	logger, logCloser, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if !cmd.Flags().Changed("record") {
		recordDir = settings.RecordDir
	}
	if !cmd.Flags().Changed("metrics-addr") {
		metricsAddr = settings.MetricsAddr
	}

	var recorder *cmg.Recorder
	if recordDir != "" {
		recorder, err = cmg.NewRecorder(recordDir, time.Now())
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close recording")
			}
			fmt.Printf("Recorded %d frames to %s\n", recorder.Rows(), recorder.Path())
		}()
	}

	fmt.Printf("cmgstat - Link Monitor\n")
	fmt.Printf("Connection: %s\n", tgt.info)
	if recorder != nil {
		fmt.Printf("Recording: %s\n", recorder.Path())
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := tgt.newLoop(&logger, frameRecorder(recorder, logger))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	p := &monitorPrinter{
		showAll:  showAll,
		every:    uint64(max(frameEvery, 1)),
		validate: validate,
		log:      logger,
	}
	g.Go(func() error {
		return p.consume(gctx, loop, time.Duration(statsInterval)*time.Second)
	})

	if metricsAddr != "" {
		reg := observability.NewRegistry(func() observability.Sample {
			snap := loop.Snapshot()
			return observability.Sample{
				Stats:   snap.Stats,
				State:   snap.State,
				Port:    snap.Port,
				Session: snap.Session,
				Dropped: snap.Dropped,
			}
		})
		g.Go(func() error {
			return observability.Serve(gctx, metricsAddr, reg, logger)
		})
	}

	var connectErr error
	if err := loop.Do(gctx, func(s *link.Supervisor) {
		connectErr = s.Connect(tgt.port, tgt.baud)
	}); err == nil && connectErr != nil {
		fmt.Printf("Initial connection failed: %v (retrying)\n", connectErr)
	}

	err = g.Wait()

	snap := loop.Snapshot()
	fmt.Printf("\n%s", snap.Stats.String())
	if snap.Dropped > 0 {
		fmt.Printf("Dropped telemetry events: %d\n", snap.Dropped)
	}
	return err
}

// frameRecorder returns the loop frame hook writing every frame to r.
// Recording runs on the loop goroutine so no frame is lost to a slow printer.
func frameRecorder(r *cmg.Recorder, logger zerolog.Logger) func(*cmg.Telemetry) {
	if r == nil {
		return nil
	}
	return func(t *cmg.Telemetry) {
		if err := r.Record(t); err != nil {
			logger.Error().Err(err).Msg("failed to record frame")
		}
	}
}

// monitorPrinter renders loop events as terminal output
type monitorPrinter struct {
	showAll  bool
	every    uint64
	validate bool
	log      zerolog.Logger

	// pendingStatus suppresses the LogLine that repeats a StatusLine
	pendingStatus string
	anomalies     uint64
}

func (p *monitorPrinter) consume(ctx context.Context, loop *link.Loop, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := loop.Events()
	done := ctx.Done()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return nil
			}
			p.handle(e)

		case <-tick:
			snap := loop.Snapshot()
			fmt.Printf("\n%s", snap.Stats.String())
			if p.anomalies > 0 {
				fmt.Printf("Anomalous frames: %d\n", p.anomalies)
			}
			fmt.Println()

		case <-done:
			// Keep draining until the loop closes the channel
			done, tick = nil, nil
		}
	}
}

func (p *monitorPrinter) handle(e link.Event) {
	ts := time.Now().Format("15:04:05.000")

	switch e := e.(type) {
	case link.ConnectionChanged:
		fmt.Printf("[%s] \033[1;36m%s:\033[0m %s\n", ts, e.State, e.Status)

	case link.StatusLine:
		p.pendingStatus = e.Text
		fmt.Printf("[%s] \033[1;32m%s\033[0m\n", ts, e.Text)

	case link.LogLine:
		if p.pendingStatus != "" && e.Text == p.pendingStatus {
			p.pendingStatus = ""
			return
		}
		fmt.Printf("[%s] %s\n", ts, e.Text)

	case link.TelemetryUpdated:
		p.handleTelemetry(ts, &e)

	case link.PortsChanged:
		p.log.Debug().Strs("ports", e.Ports).Msg("ports changed")
	}
}

func (p *monitorPrinter) handleTelemetry(ts string, e *link.TelemetryUpdated) {
	t := &e.Telemetry

	if p.validate {
		if issues := cmg.ValidateTelemetry(t); len(issues) > 0 {
			p.anomalies++
			fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m frame #%d t=%dms\n", ts, e.Frame, t.TimestampMs)
			for i, issue := range issues {
				fmt.Printf("  Issue %d: \033[1;31m%s\033[0m (%s)\n", i+1, issue.Message, issue.Type)
			}
			fmt.Println()
		}
	}

	switch {
	case p.showAll:
		fmt.Printf("[%s] %s\n", ts, cmg.FormatCompact(t))
	case e.Frame%p.every == 0:
		fmt.Printf("[%s] Frame #%d\n%s\n", ts, e.Frame, cmg.FormatTelemetry(t, e.Variant))
	}
}
