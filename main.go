// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// cmgstat - CMG Balancer Telemetry Monitor
//
// A CLI tool for monitoring, controlling and simulating the CMG balancer
// over serial or a WebSocket serial bridge.

package main

import (
	"os"

	"github.com/Thermoquad/cmgstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
