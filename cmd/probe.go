// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Wait for a valid telemetry frame on the connection until timeout.

This command opens a serial port or WebSocket and waits for any frame that
passes the checksum check. Text lines are echoed, rejected frames are reported
and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before starting a session.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	tgt, err := resolveTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exitWith(2, nil)
	}

	port, err := tgt.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exitWith(2, nil)
	}

	fmt.Printf("cmgstat - Probe\n")
	fmt.Printf("Connection: %s\n", tgt.info)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid telemetry frame...\n\n")

	type found struct {
		unit  cmg.Unit
		stats cmg.Statistics
	}
	frameChan := make(chan found, 1)
	errChan := make(chan error, 1)

	go func() {
		demux := cmg.NewDemultiplexer(nil)
		buf := make([]byte, 512)
		for {
			n, err := port.Read(buf)
			if err != nil {
				if link.IsTimeout(err) {
					continue
				}
				errChan <- err
				return
			}

			for _, u := range demux.Ingest(buf[:n]) {
				switch u.Kind {
				case cmg.UnitText:
					fmt.Printf("  text: %s\n", u.Text)
				case cmg.UnitChecksumFailure:
					fmt.Printf("  %s\n", cmg.FormatChecksumError(u.Err))
				case cmg.UnitTelemetry:
					frameChan <- found{unit: u, stats: demux.Stats().Snapshot()}
					return
				}
			}
		}
	}()

	select {
	case f := <-frameChan:
		t := f.unit.Telemetry
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Checksum: %s\n", f.unit.Variant)
		fmt.Printf("  Timestamp: %d ms\n", t.TimestampMs)
		fmt.Printf("  %s\n", cmg.FormatCompact(t))
		if skipped := f.stats.NoiseBytes + f.stats.ResyncBytes; skipped > 0 {
			fmt.Printf("  (skipped %d bytes before sync)\n", skipped)
		}
		exitWith(0, port)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		exitWith(2, port)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", probeTimeout)
		exitWith(1, port)
	}

	return nil
}
