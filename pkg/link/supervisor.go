// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
)

// Defaults
const (
	DefaultBaudRate          = 115200
	DefaultReconnectInterval = 2 * time.Second
	DefaultLivenessTimeout   = 3 * time.Second
)

// Diagnostic log thresholds
const (
	logFirstFrames   = 3
	logFrameEvery    = 500
	logFirstFailures = 5
	logRxEvery       = 100
)

// Config configures a Supervisor
type Config struct {
	Transport         Transport
	ReconnectInterval time.Duration
	LivenessTimeout   time.Duration

	// Sink receives every event; nil discards them
	Sink EventSink

	// Spawn is called with every newly opened port so the caller can start
	// reading it. Data and errors must be handed back through HandleData and
	// HandleError tagged with the same session.
	Spawn func(session uint64, port Port)

	// OnFrame is called with every decoded frame before its event is
	// published, on the supervisor's goroutine. Unlike TelemetryUpdated it
	// is never dropped.
	OnFrame func(t *cmg.Telemetry)

	Logger *zerolog.Logger
	Now    func() time.Time
}

// Supervisor owns one logical device connection.
//
// All methods must be called from a single goroutine.
type Supervisor struct {
	transport Transport
	sink      EventSink
	spawn     func(uint64, Port)
	onFrame   func(*cmg.Telemetry)
	log       zerolog.Logger
	now       func() time.Time

	state  State
	status string

	port     Port
	portName string
	session  uint64

	// Reconnect policy
	lastPort      string
	lastBaud      int
	autoReconnect bool
	ports         []string

	stats        *cmg.Statistics
	demux        *cmg.Demultiplexer
	telemetry    cmg.Telemetry
	hasTelemetry bool
	dataReceived bool
	frames       uint64
	failures     uint64

	reconnect *Timer
	liveness  *Timer
}

// NewSupervisor creates a disconnected supervisor
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sink == nil {
		cfg.Sink = func(Event) {}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "link").Logger()
	}

	stats := cmg.NewStatistics()
	return &Supervisor{
		transport: cfg.Transport,
		sink:      cfg.Sink,
		spawn:     cfg.Spawn,
		onFrame:   cfg.OnFrame,
		log:       logger,
		now:       cfg.Now,
		state:     StateDisconnected,
		status:    "Disconnected",
		lastBaud:  DefaultBaudRate,
		stats:     stats,
		demux:     cmg.NewDemultiplexer(stats),
		reconnect: NewTimer(cfg.ReconnectInterval, true),
		liveness:  NewTimer(cfg.LivenessTimeout, false),
	}
}

// ============================================================
// Operations
// ============================================================

// Connect opens port at baud and enables auto-reconnect.
//
// Any open session is closed first. When the open fails the reconnect timer
// keeps retrying; the error is returned for the caller's information only.
func (s *Supervisor) Connect(port string, baud int) error {
	if s.port != nil {
		s.Disconnect()
	}

	s.lastPort = port
	s.lastBaud = baud
	s.autoReconnect = true

	if err := s.open(port, baud); err != nil {
		reason := openReason(err)
		s.log.Warn().Err(err).Str("port", port).Int("baud", baud).Msg("failed to open port")
		s.setState(StateDisconnected, "Failed: "+reason)
		s.emit(LogLine{Text: "Connection failed: " + reason})
		s.startReconnectTimer()
		return err
	}
	return nil
}

// Disconnect closes the port and disables auto-reconnect
func (s *Supervisor) Disconnect() {
	s.autoReconnect = false
	s.reconnect.Cancel()
	s.liveness.Cancel()

	wasOpen := s.port != nil
	s.closePort()
	s.demux.Reset()
	s.stats.Reset()
	s.dataReceived = false

	s.setState(StateDisconnected, "Disconnected")
	if wasOpen {
		s.log.Info().Msg("disconnected")
		s.emit(LogLine{Text: "Disconnected"})
	}
}

// Send writes command followed by a newline
func (s *Supervisor) Send(command string) error {
	if s.port == nil {
		s.emit(LogLine{Text: "Not connected"})
		return ErrNotConnected
	}

	if _, err := s.port.Write([]byte(command + "\n")); err != nil {
		s.log.Warn().Err(err).Str("command", command).Msg("write failed")
		if IsFatal(err) {
			s.lose(err)
		}
		return fmt.Errorf("failed to send %q: %w", command, err)
	}

	s.log.Debug().Str("command", command).Msg("TX")
	return nil
}

// HandleData feeds bytes read from session into the demultiplexer
func (s *Supervisor) HandleData(session uint64, data []byte) {
	if !s.current(session) {
		s.log.Debug().Uint64("session", session).Int("bytes", len(data)).Msg("dropping data from stale session")
		return
	}

	// Logged for every chunk until the first frame, then while the count is a multiple of 100
	logRx := len(data) > 0 && s.frames%logRxEvery == 0
	units := s.demux.Ingest(data)

	rx := fmt.Sprintf("RX: %d bytes, total: %d, buf: %d", len(data), s.stats.BytesReceived, s.demux.Buffered())
	s.log.Debug().Msg(rx)
	if logRx {
		s.emit(LogLine{Text: rx})
	}

	for i := range units {
		s.handleUnit(&units[i])
	}
}

// HandleError processes a read error from session
func (s *Supervisor) HandleError(session uint64, err error) {
	if err == nil || !s.current(session) {
		return
	}

	if IsTimeout(err) {
		s.log.Debug().Err(err).Msg("read timeout")
		return
	}

	s.log.Warn().Err(err).Str("port", s.portName).Msg("serial error")
	s.emit(LogLine{Text: "Serial error: " + err.Error()})

	if IsFatal(err) {
		s.lose(err)
	}
}

// Advance fires every timer whose deadline is at or before now
func (s *Supervisor) Advance(now time.Time) {
	if s.liveness.Fire(now) {
		s.onLivenessTimeout()
	}
	if s.reconnect.Fire(now) {
		s.tryReconnect()
	}
}

// NextDeadline returns the earliest armed timer deadline
func (s *Supervisor) NextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, t := range []*Timer{s.liveness, s.reconnect} {
		if !t.Armed() {
			continue
		}
		if !found || t.Deadline().Before(next) {
			next = t.Deadline()
			found = true
		}
	}
	return next, found
}

// RefreshPorts reloads the port list and emits PortsChanged on a difference
func (s *Supervisor) RefreshPorts() []string {
	ports, err := s.transport.Ports()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list ports")
		return s.Ports()
	}

	sort.Strings(ports)
	if !slices.Equal(ports, s.ports) {
		s.ports = ports
		s.log.Debug().Strs("ports", ports).Msg("ports changed")
		s.emit(PortsChanged{Ports: s.Ports()})
	}
	return s.Ports()
}

// ============================================================
// Accessors
// ============================================================

// State returns the connection state
func (s *Supervisor) State() State { return s.state }

// Status returns the human-readable connection status
func (s *Supervisor) Status() string { return s.status }

// Connected reports whether a port is open and a frame has been decoded
func (s *Supervisor) Connected() bool { return s.state == StateConnected }

// IsOpen reports whether a port is open
func (s *Supervisor) IsOpen() bool { return s.port != nil }

// PortName returns the open port, or the last used one
func (s *Supervisor) PortName() string {
	if s.port != nil {
		return s.portName
	}
	return s.lastPort
}

// BaudRate returns the last used baud rate
func (s *Supervisor) BaudRate() int { return s.lastBaud }

// AutoReconnect reports whether the reconnect policy is active
func (s *Supervisor) AutoReconnect() bool { return s.autoReconnect }

// Session returns the id of the current session
func (s *Supervisor) Session() uint64 { return s.session }

// Ports returns a copy of the last known port list
func (s *Supervisor) Ports() []string { return slices.Clone(s.ports) }

// Telemetry returns the most recent frame, if any
func (s *Supervisor) Telemetry() (cmg.Telemetry, bool) {
	return s.telemetry, s.hasTelemetry
}

// Stats returns a snapshot of the session statistics
func (s *Supervisor) Stats() cmg.Statistics {
	s.stats.CalculateRates()
	return s.stats.Snapshot()
}

// ============================================================
// Internals
// ============================================================

func (s *Supervisor) current(session uint64) bool {
	return s.port != nil && session == s.session
}

// open opens a new session and resets all per-session state
func (s *Supervisor) open(name string, baud int) error {
	p, err := s.transport.Open(name, baud)
	if err != nil {
		return err
	}

	s.port = p
	s.portName = name
	s.session++
	s.reconnect.Cancel()

	s.demux.Reset()
	s.stats.Reset()
	s.dataReceived = false
	s.frames = 0
	s.failures = 0

	s.log.Info().Str("port", name).Int("baud", baud).Uint64("session", s.session).Msg("port opened")

	status := fmt.Sprintf("Connecting: %s @ %d", name, baud)
	s.setState(StateConnecting, status)
	s.emit(LogLine{Text: status})
	s.liveness.Arm(s.now())

	if s.spawn != nil {
		s.spawn(s.session, p)
	}
	return nil
}

func (s *Supervisor) closePort() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		s.log.Debug().Err(err).Str("port", s.portName).Msg("close failed")
	}
	s.port = nil
}

// lose handles a vanished device
func (s *Supervisor) lose(err error) {
	s.log.Warn().Err(err).Str("port", s.portName).Msg("device lost, will auto-reconnect")

	s.closePort()
	s.demux.Reset()
	s.stats.Reset()
	s.dataReceived = false
	s.liveness.Cancel()

	s.setState(StateLost, "Device lost, reconnecting...")
	s.emit(LogLine{Text: "Device lost, reconnecting..."})
	s.startReconnectTimer()
}

func (s *Supervisor) startReconnectTimer() {
	if s.autoReconnect && !s.reconnect.Armed() {
		s.log.Info().Dur("interval", s.reconnect.Interval()).Msg("reconnect timer started")
		s.reconnect.Arm(s.now())
	}
}

func (s *Supervisor) tryReconnect() {
	if !s.autoReconnect || s.port != nil {
		s.reconnect.Cancel()
		return
	}

	target, ok := ReconnectTarget(s.RefreshPorts(), s.lastPort)
	if !ok {
		s.log.Debug().Msg("no ports available, retrying")
		return
	}

	s.log.Info().Str("port", target).Int("baud", s.lastBaud).Msg("trying reconnect")
	if err := s.open(target, s.lastBaud); err != nil {
		s.log.Debug().Err(err).Str("port", target).Msg("reconnect failed")
		return
	}
	s.lastPort = target
}

// ReconnectTarget picks the port to reopen: last if it is still listed,
// otherwise the lexicographically last port
func ReconnectTarget(ports []string, last string) (string, bool) {
	if len(ports) == 0 {
		return "", false
	}
	if last != "" && slices.Contains(ports, last) {
		return last, true
	}
	return slices.Max(ports), true
}

func (s *Supervisor) onLivenessTimeout() {
	if s.port == nil || s.dataReceived {
		return
	}
	s.log.Warn().Str("port", s.portName).Msg("no valid data received, check wiring")
	s.setState(s.state, fmt.Sprintf("No data, check wiring (%s)", s.portName))
	s.emit(LogLine{Text: "No data received, check wiring or port"})
}

func (s *Supervisor) handleUnit(u *cmg.Unit) {
	switch u.Kind {
	case cmg.UnitTelemetry:
		s.frames++
		s.telemetry = *u.Telemetry
		s.hasTelemetry = true
		if s.onFrame != nil {
			s.onFrame(u.Telemetry)
		}
		s.emit(TelemetryUpdated{Telemetry: s.telemetry, Variant: u.Variant, Frame: s.frames})

		if !s.dataReceived {
			s.dataReceived = true
			s.liveness.Cancel()
			status := fmt.Sprintf("Connected: %s @ %d", s.portName, s.lastBaud)
			s.log.Info().Str("port", s.portName).Msg("first valid frame, connected")
			s.setState(StateConnected, status)
			s.emit(LogLine{Text: status})
		}

		if s.frames <= logFirstFrames || s.frames%logFrameEvery == 0 {
			msg := fmt.Sprintf("PKT #%d ts=%d roll=%.2f gimbal=%.1f (%s)",
				s.frames, s.telemetry.TimestampMs, s.telemetry.Roll, s.telemetry.GimbalAngle, u.Variant)
			s.log.Info().Uint64("frame", s.frames).Stringer("checksum", u.Variant).Msg(msg)
			s.emit(LogLine{Text: msg})
		}

	case cmg.UnitChecksumFailure:
		s.failures++
		if s.failures <= logFirstFailures {
			msg := fmt.Sprintf("CHECKSUM FAIL #%d expected:%02x full:%02x noMagic:%02x",
				s.failures, u.Err.Expected, u.Err.WithMagic, u.Err.WithoutMagic)
			s.log.Warn().Msg(msg)
			s.emit(LogLine{Text: msg})
		}

	case cmg.UnitText:
		if u.Status {
			s.emit(StatusLine{Text: u.Text})
		}
		s.emit(LogLine{Text: u.Text})

	case cmg.UnitOverflow:
		msg := "Buffer overflow, clearing"
		if u.Kept > 0 {
			msg = fmt.Sprintf("Buffer overflow, keeping %d bytes", u.Kept)
		}
		s.log.Warn().Msg(msg)
		s.emit(LogLine{Text: msg})
	}
}

// setState updates state and status, emitting ConnectionChanged on a change
func (s *Supervisor) setState(state State, status string) {
	if s.state == state && s.status == status {
		return
	}
	if s.state != state {
		s.log.Info().Stringer("from", s.state).Stringer("to", state).Msg("connection state changed")
	}
	s.state = state
	s.status = status
	s.emit(ConnectionChanged{State: state, Status: status, Connected: state == StateConnected})
}

func (s *Supervisor) emit(e Event) {
	s.sink(e)
}

// openReason strips the port prefix from open errors for status strings
func openReason(err error) string {
	var openErr *OpenError
	if errors.As(err, &openErr) && openErr.Err != nil {
		return openErr.Err.Error()
	}
	return err.Error()
}
