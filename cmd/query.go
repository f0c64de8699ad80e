// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

var (
	queryTimeout int
	queryCount   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a status query and wait for the STATUS reply",
	Long: `Send the '?' status query to the device and wait for a STATUS: line.

This command tests bidirectional communication: the command has to reach the
firmware and its reply has to come back through the same link. Telemetry
frames received in the meantime are counted but otherwise ignored.

Exit codes:
  0 - All queries answered
  1 - One or more queries failed/timed out
  2 - Connection error`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 5, "Timeout in seconds for each query")
	queryCmd.Flags().IntVar(&queryCount, "count", 1, "Number of queries to send")
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("cmgstat - Status Query\n")
	fmt.Printf("Connection: %s\n", tgt.info)
	fmt.Printf("Timeout: %d seconds per query\n", queryTimeout)
	fmt.Printf("Count: %d queries\n\n", queryCount)

	statusChan := make(chan string, 16)
	errChan := make(chan error, 1)
	var frames atomic.Uint64

	// One reader for the whole run; replies are matched in order
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
				switch {
				case u.Kind == cmg.UnitText && u.Status:
					select {
					case statusChan <- u.Text:
					default:
					}
				case u.Kind == cmg.UnitTelemetry:
					frames.Add(1)
				}
			}
		}
	}()

	if queryCount < 1 {
		queryCount = 1
	}
	successCount := 0
	failCount := 0

queries:
	for i := 1; i <= queryCount; i++ {
		fmt.Printf("Query %d/%d: ", i, queryCount)

		startTime := time.Now()
		if _, err := port.Write([]byte(cmg.CmdQueryStatus + "\n")); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case status := <-statusChan:
			rtt := time.Since(startTime)
			fmt.Printf("%s, rtt=%v\n", status, rtt.Round(time.Millisecond))
			successCount++

		case err := <-errChan:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount += queryCount - i + 1
			break queries

		case <-time.After(time.Duration(queryTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no STATUS reply in %ds)\n", queryTimeout)
			failCount++
		}

		// Small delay between queries
		if i < queryCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Query statistics ---\n")
	fmt.Printf("%d queries sent, %d replies received, %.0f%% loss\n",
		queryCount, successCount, float64(failCount)/float64(queryCount)*100)
	if n := frames.Load(); n > 0 {
		fmt.Printf("Telemetry frames seen: %d\n", n)
	}

	if failCount > 0 {
		exitWith(1, port)
	}
	port.Close()
	return nil
}
