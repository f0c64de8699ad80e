// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cmgstat/pkg/link"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports present on this machine with their USB details.

The port marked with * is the one automatic reconnection would choose: the
configured --port if it is present, otherwise the lexicographically last port.

Exit codes:
  0 - At least one port found
  1 - No ports found`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	infos, err := link.ListPortDetails()
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No serial ports found")
		os.Exit(1)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	preferred, _ := link.ReconnectTarget(names, settings.Port)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("", "PORT", "VID:PID", "SERIAL", "PRODUCT")
	for _, info := range infos {
		mark := ""
		if info.Name == preferred {
			mark = "*"
		}
		ids := "-"
		if info.IsUSB {
			ids = info.VID + ":" + info.PID
		}
		t.Row(mark, info.Name, ids, orDash(info.SerialNumber), orDash(info.Product))
	}
	fmt.Println(t.Render())
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
