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

var wsTestCmd = &cobra.Command{
	Use:   "ws_test",
	Short: "Test raw connection stability",
	Long: `Test the connection without decoding or sending protocol data.

This command connects and just waits, logging any data received or errors
encountered. Over WebSocket a ping control frame is sent every second so a
dead bridge is noticed even when the device is silent. Useful for debugging
connection stability issues.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runWsTest,
}

var (
	wsTestDuration int
	wsTestHexLimit int
)

func init() {
	rootCmd.AddCommand(wsTestCmd)
	wsTestCmd.Flags().IntVar(&wsTestDuration, "duration", 30, "Test duration in seconds")
	wsTestCmd.Flags().IntVar(&wsTestHexLimit, "hex-limit", 32, "Bytes of each read to print as hex (0 prints none)")
}

func runWsTest(cmd *cobra.Command, args []string) error {
	tgt, err := resolveTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exitWith(2, nil)
	}
	conn, err := tgt.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exitWith(2, nil)
	}

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", tgt.info)
	fmt.Printf("Duration: %d seconds\n\n", wsTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if link.IsTimeout(err) {
					continue
				}
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	ws, isWebSocket := conn.(*link.WebSocketPort)

	start := time.Now()
	endTime := start.Add(time.Duration(wsTestDuration) * time.Second)
	bytesReceived := 0
	readsReceived := 0

	fmt.Printf("Listening for data...\n\n")

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			bytesReceived += len(data)
			readsReceived++
			shown := data
			if len(shown) > wsTestHexLimit {
				shown = shown[:wsTestHexLimit]
			}
			fmt.Printf("[%s] Received %d bytes: %s\n",
				time.Now().Format("15:04:05.000"), len(data), cmg.FormatHex(shown))

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v (fatal=%v)\n",
				time.Now().Format("15:04:05.000"), err, link.IsFatal(err))
			printWsTestResults(time.Since(start), readsReceived, bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			exitWith(1, conn)

		case <-heartbeat.C:
			if isWebSocket {
				if err := ws.Ping(time.Second); err != nil {
					fmt.Printf("[%s] Ping failed: %v\n", time.Now().Format("15:04:05.000"), err)
				}
			}
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	printWsTestResults(time.Since(start), readsReceived, bytesReceived)
	fmt.Printf("Result: PASSED (connection stable)\n")
	conn.Close()
	return nil
}

func printWsTestResults(elapsed time.Duration, reads, bytes int) {
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Reads: %d\n", reads)
	fmt.Printf("Bytes received: %d\n", bytes)
}
