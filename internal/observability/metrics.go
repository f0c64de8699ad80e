// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package observability exports link statistics as Prometheus metrics.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

const namespace = "cmgstat"

// Sample is one scrape's view of the link
type Sample struct {
	Stats   cmg.Statistics
	State   link.State
	Port    string
	Session uint64
	Dropped uint64
}

// SampleFunc returns the current sample. It is called on every scrape and
// must be safe to call from the HTTP server's goroutines.
type SampleFunc func() Sample

// Collector turns samples into const metrics at scrape time
type Collector struct {
	sample SampleFunc

	frames        *prometheus.Desc
	failures      *prometheus.Desc
	bytes         *prometheus.Desc
	textLines     *prometheus.Desc
	statusLines   *prometheus.Desc
	discarded     *prometheus.Desc
	overflows     *prometheus.Desc
	noiseBytes    *prometheus.Desc
	resyncBytes   *prometheus.Desc
	droppedEvents *prometheus.Desc
	state         *prometheus.Desc
	session       *prometheus.Desc
	lastFrame     *prometheus.Desc
}

// NewCollector creates a collector over sample
func NewCollector(sample SampleFunc) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	return &Collector{
		sample:        sample,
		frames:        desc("link", "frames_total", "Telemetry frames decoded, by checksum variant.", "variant"),
		failures:      desc("link", "checksum_failures_total", "Frames rejected by checksum."),
		bytes:         desc("link", "bytes_received_total", "Raw bytes received from the transport."),
		textLines:     desc("link", "text_lines_total", "Text lines delivered."),
		statusLines:   desc("link", "status_lines_total", "STATUS lines delivered."),
		discarded:     desc("link", "discarded_lines_total", "Newline-terminated chunks rejected as binary."),
		overflows:     desc("link", "buffer_overflows_total", "Receive buffer overflow recoveries."),
		noiseBytes:    desc("link", "noise_bytes_total", "Bytes dropped ahead of a frame marker."),
		resyncBytes:   desc("link", "resync_bytes_total", "Bytes skipped after checksum failures."),
		droppedEvents: desc("link", "dropped_events_total", "Telemetry events dropped for a slow consumer."),
		state:         desc("connection", "state", "1 for the current connection state.", "state", "port"),
		session:       desc("connection", "session", "Current connection session id."),
		lastFrame:     desc("link", "last_frame_timestamp_seconds", "Unix time of the last decoded frame."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.frames, c.failures, c.bytes, c.textLines, c.statusLines, c.discarded,
		c.overflows, c.noiseBytes, c.resyncBytes, c.droppedEvents, c.state,
		c.session, c.lastFrame,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.sample()
	st := s.Stats

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.frames, st.WithMagicFrames, "with_magic")
	counter(c.frames, st.WithoutMagicFrames, "without_magic")
	counter(c.failures, st.ChecksumFailures)
	counter(c.bytes, st.BytesReceived)
	counter(c.textLines, st.TextLines)
	counter(c.statusLines, st.StatusLines)
	counter(c.discarded, st.DiscardedLines)
	counter(c.overflows, st.Overflows)
	counter(c.noiseBytes, st.NoiseBytes)
	counter(c.resyncBytes, st.ResyncBytes)
	counter(c.droppedEvents, s.Dropped)

	for _, state := range []link.State{link.StateDisconnected, link.StateConnecting, link.StateConnected, link.StateLost} {
		v := 0.0
		if state == s.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, state.String(), s.Port)
	}
	ch <- prometheus.MustNewConstMetric(c.session, prometheus.GaugeValue, float64(s.Session))

	if st.ValidFrames > 0 {
		ch <- prometheus.MustNewConstMetric(c.lastFrame, prometheus.GaugeValue,
			float64(st.LastUpdateTime.UnixNano())/1e9)
	}
}

// NewRegistry returns a registry holding the link collector and the Go
// runtime collectors
func NewRegistry(sample SampleFunc) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(sample),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
