// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/cmgstat/internal/sim"
	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

var (
	simVariant      string
	simCorruptEvery int
	simRate         int
	simStatusEvery  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Emulate the device on a serial port",
	Long: `Write synthetic telemetry frames and text lines to a port, acting as the device.

Connect two ports with a null-modem cable (or a pty pair) and point monitor or
control at the other end. Commands received on the port are executed by the
simulated controller and answered with LOG: or STATUS: lines.

Checksum variants:
  magic      XOR over bytes 0-108 (default)
  nomagic    XOR over bytes 2-108
  alternate  switch variant on every frame

--corrupt-every N flips one payload bit in every Nth frame to exercise
resynchronization.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simVariant, "variant", "magic", "Checksum variant (magic, nomagic, alternate)")
	simulateCmd.Flags().IntVar(&simCorruptEvery, "corrupt-every", 0, "Corrupt every Nth frame (0 disables)")
	simulateCmd.Flags().IntVar(&simRate, "rate", 50, "Frames per second")
	simulateCmd.Flags().IntVar(&simStatusEvery, "status-every", 5, "Send an unsolicited STATUS line every N seconds (0 disables)")
}

// frameVariant returns the checksum variant for frame n
func frameVariant(mode string, n uint64) (cmg.ChecksumVariant, error) {
	switch mode {
	case "magic":
		return cmg.ChecksumWithMagic, nil
	case "nomagic":
		return cmg.ChecksumWithoutMagic, nil
	case "alternate":
		if n%2 == 0 {
			return cmg.ChecksumWithMagic, nil
		}
		return cmg.ChecksumWithoutMagic, nil
	}
	return cmg.ChecksumNone, fmt.Errorf("unknown variant %q", mode)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if _, err := frameVariant(simVariant, 0); err != nil {
		return err
	}
	if simRate < 1 {
		return errors.New("--rate must be at least 1")
	}

	tgt, err := resolveTarget()
	if err != nil {
		return err
	}
	logger, logCloser, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	port, err := tgt.open()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("cmgstat - Device Simulator\n")
	fmt.Printf("Connection: %s\n", tgt.info)
	fmt.Printf("Rate: %d frames/s, variant: %s\n", simRate, simVariant)
	if simCorruptEvery > 0 {
		fmt.Printf("Corrupting every %d frames\n", simCorruptEvery)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := sim.NewDevice(time.Now())
	w := &lineWriter{port: port}
	g, gctx := errgroup.WithContext(ctx)

	// Commands from the host
	g.Go(func() error {
		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			reply, err := dev.Handle(line)
			if err != nil {
				logger.Warn().Err(err).Str("command", line).Msg("command rejected")
			} else {
				logger.Info().Str("command", line).Msg("RX command")
			}
			if err := w.writeLine(reply); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil && !link.IsFatal(err) && gctx.Err() == nil {
			return err
		}
		return nil
	})

	// Telemetry and periodic status
	g.Go(func() error {
		ticker := time.NewTicker(time.Second / time.Duration(simRate))
		defer ticker.Stop()

		var frames, corrupted uint64
		lastStatus := time.Now()
		w.writeLine("LOG: cmg simulator boot")

		for {
			select {
			case <-gctx.Done():
				fmt.Printf("\nSent %d frames (%d corrupted), handled %d commands\n",
					frames, corrupted, dev.Commands())
				return nil

			case now := <-ticker.C:
				variant, _ := frameVariant(simVariant, frames)
				frame := cmg.EncodeTelemetry(dev.Telemetry(now), variant)
				frames++
				if simCorruptEvery > 0 && frames%uint64(simCorruptEvery) == 0 {
					// Flip a low bit; flipping all bits would just switch variants
					frame[cmg.FrameSize/2] ^= 0x01
					corrupted++
				}
				if err := w.write(frame); err != nil {
					return err
				}

				if simStatusEvery > 0 && now.Sub(lastStatus) >= time.Duration(simStatusEvery)*time.Second {
					lastStatus = now
					if err := w.writeLine(dev.Status()); err != nil {
						return err
					}
				}
			}
		}
	})

	// Closing the port unblocks the command reader
	go func() {
		<-gctx.Done()
		port.Close()
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lineWriter serializes writes from the reply and telemetry goroutines so
// text lines never land inside a frame
type lineWriter struct {
	port io.Writer
	mu   sync.Mutex
}

func (w *lineWriter) write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.port.Write(p)
	return err
}

func (w *lineWriter) writeLine(s string) error {
	return w.write([]byte(s + "\n"))
}
