// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/cmgstat/pkg/cmg"
	"github.com/Thermoquad/cmgstat/pkg/link"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries   = 200
	rpmStep         = 100
	gimbalStep      = 1.0
	controlTickRate = 500 * time.Millisecond

	// Rows used by everything except the event log
	chromeHeight = 24
	minLogHeight = 3
)

//////////////////////////////////////////////////////////////
// Key Bindings
//////////////////////////////////////////////////////////////

type controlKeyMap struct {
	Wheel      key.Binding
	Balancing  key.Binding
	Emergency  key.Binding
	Reset      key.Binding
	Query      key.Binding
	RPMUp      key.Binding
	RPMDown    key.Binding
	GimbalUp   key.Binding
	GimbalDown key.Binding
	Reconnect  key.Binding
	Disconnect key.Binding
	Command    key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultControlKeys() controlKeyMap {
	return controlKeyMap{
		Wheel:      key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "wheel on/off")),
		Balancing:  key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "balancing on/off")),
		Emergency:  key.NewBinding(key.WithKeys("e", " "), key.WithHelp("e/space", "EMERGENCY STOP")),
		Reset:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "reset e-stop")),
		Query:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "query status")),
		RPMUp:      key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "rpm up")),
		RPMDown:    key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "rpm down")),
		GimbalUp:   key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "gimbal +1°")),
		GimbalDown: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "gimbal -1°")),
		Reconnect:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
		Command:    key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "command line")),
		Help:       key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "more keys")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k controlKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Wheel, k.Balancing, k.Emergency, k.Query, k.Command, k.Help, k.Quit}
}

func (k controlKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Wheel, k.RPMUp, k.RPMDown},
		{k.Balancing, k.GimbalUp, k.GimbalDown},
		{k.Emergency, k.Reset, k.Query},
		{k.Reconnect, k.Disconnect, k.Command},
		{k.Help, k.Quit},
	}
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	loop   *link.Loop
	ctx    context.Context
	target target
	keys   controlKeyMap
	styles styles

	// Connection
	state     link.State
	status    string
	connected bool
	snapshot  link.Snapshot

	// Latest telemetry
	telemetry    cmg.Telemetry
	hasTelemetry bool
	variant      cmg.ChecksumVariant
	frames       uint64

	// Host-side setpoints, seeded from the first frame
	targetRPM    int
	gimbalTarget float64
	seeded       bool

	lastStatus    string
	pendingStatus string

	// Event log
	log      []logEntry
	viewport viewport.Model

	// Command line
	input textinput.Model
	help  help.Model

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type linkEventMsg struct {
	event link.Event
}

type commandResultMsg struct {
	command string
	err     error
}

type connectResultMsg struct {
	disconnect bool
	err        error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctx context.Context, loop *link.Loop, tgt target) controlModel {
	ti := textinput.New()
	ti.Placeholder = "raw command, e.g. R1500 or K2.50,0.050,0.40,0.010"
	ti.Prompt = ": "
	ti.CharLimit = 64
	ti.Width = 50

	vp := viewport.New(76, minLogHeight)

	return controlModel{
		loop:     loop,
		ctx:      ctx,
		target:   tgt,
		keys:     defaultControlKeys(),
		styles:   newStyles(),
		state:    link.StateDisconnected,
		status:   "Disconnected",
		log:      make([]logEntry, 0, maxLogEntries),
		viewport: vp,
		input:    ti,
		help:     help.New(),
		width:    80,
		height:   24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), m.connectCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(controlTickRate, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case controlTickMsg:
		if m.loop != nil {
			m.snapshot = m.loop.Snapshot()
		}
		return m, controlTickCmd()

	case linkEventMsg:
		m.handleLinkEvent(msg.event)
		return m, nil

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", msg.command, msg.err), levelError)
		} else {
			m.addLogEntry("TX "+msg.command, levelInfo)
		}
		return m, nil

	case connectResultMsg:
		// The supervisor already logged the outcome; only surface loop errors
		if msg.err != nil && m.ctx.Err() == nil {
			m.addLogEntry(msg.err.Error(), levelError)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.input.Focused() {
		switch msg.Type {
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			m.input.Blur()
			if text == "" {
				return m, nil
			}
			return m, m.sendCommand(text)
		case tea.KeyEsc:
			m.input.Reset()
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil

	case key.Matches(msg, m.keys.Command):
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Emergency):
		return m, m.sendCommand(cmg.CmdEmergencyStop)

	case key.Matches(msg, m.keys.Reset):
		return m, m.sendCommand(cmg.CmdResetEmergency)

	case key.Matches(msg, m.keys.Query):
		return m, m.sendCommand(cmg.CmdQueryStatus)

	case key.Matches(msg, m.keys.Wheel):
		return m, m.sendCommand(cmg.Wheel(!m.telemetry.WheelRunning()))

	case key.Matches(msg, m.keys.Balancing):
		return m, m.sendCommand(cmg.Balancing(!m.telemetry.BalancingEnabled()))

	case key.Matches(msg, m.keys.RPMUp):
		m.targetRPM = min(m.targetRPM+rpmStep, cmg.MaxWheelRPM)
		return m, m.sendCommand(cmg.SetTargetRPM(m.targetRPM))

	case key.Matches(msg, m.keys.RPMDown):
		m.targetRPM = max(m.targetRPM-rpmStep, 0)
		return m, m.sendCommand(cmg.SetTargetRPM(m.targetRPM))

	case key.Matches(msg, m.keys.GimbalUp):
		m.gimbalTarget += gimbalStep
		return m, m.sendCommand(cmg.SetGimbalAngle(m.gimbalTarget))

	case key.Matches(msg, m.keys.GimbalDown):
		m.gimbalTarget -= gimbalStep
		return m, m.sendCommand(cmg.SetGimbalAngle(m.gimbalTarget))

	case key.Matches(msg, m.keys.Reconnect):
		return m, m.connectCmd()

	case key.Matches(msg, m.keys.Disconnect):
		return m, m.disconnectCmd()
	}

	// Arrow keys and page keys scroll the event log
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *controlModel) handleLinkEvent(e link.Event) {
	switch e := e.(type) {
	case link.ConnectionChanged:
		m.state = e.State
		m.status = e.Status
		m.connected = e.Connected

	case link.TelemetryUpdated:
		m.telemetry = e.Telemetry
		m.hasTelemetry = true
		m.variant = e.Variant
		m.frames = e.Frame
		if !m.seeded {
			m.seeded = true
			m.targetRPM = int(e.Telemetry.TargetRPM)
			m.gimbalTarget = float64(e.Telemetry.GimbalTarget)
		}

	case link.StatusLine:
		m.lastStatus = e.Text
		m.pendingStatus = e.Text
		m.addLogEntry(e.Text, levelStatus)

	case link.LogLine:
		if m.pendingStatus != "" && e.Text == m.pendingStatus {
			m.pendingStatus = ""
			return
		}
		m.addLogEntry(e.Text, classifyLogLine(e.Text))

	case link.PortsChanged:
		if len(e.Ports) == 0 {
			m.addLogEntry("No serial ports available", levelWarning)
		}
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// sendCommand runs Send on the loop goroutine. It is a tea.Cmd so the UI
// never blocks on the loop while the loop waits for the UI to take events.
func (m controlModel) sendCommand(text string) tea.Cmd {
	loop, ctx := m.loop, m.ctx
	return func() tea.Msg {
		var sendErr error
		if err := loop.Do(ctx, func(s *link.Supervisor) { sendErr = s.Send(text) }); err != nil {
			return commandResultMsg{command: text, err: err}
		}
		return commandResultMsg{command: text, err: sendErr}
	}
}

// connectCmd reopens the last used port, or the configured one
func (m controlModel) connectCmd() tea.Cmd {
	loop, ctx, tgt := m.loop, m.ctx, m.target
	return func() tea.Msg {
		err := loop.Do(ctx, func(s *link.Supervisor) {
			port := s.PortName()
			if port == "" {
				port = tgt.port
			}
			// Failures are reported as events and retried by the supervisor
			_ = s.Connect(port, tgt.baud)
		})
		return connectResultMsg{err: err}
	}
}

func (m controlModel) disconnectCmd() tea.Cmd {
	loop, ctx := m.loop, m.ctx
	return func() tea.Msg {
		err := loop.Do(ctx, func(s *link.Supervisor) { s.Disconnect() })
		return connectResultMsg{disconnect: true, err: err}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, level logLevel) {
	m.log = append(m.log, logEntry{
		timestamp: time.Now(),
		message:   message,
		level:     level,
	})
	if len(m.log) > maxLogEntries {
		m.log = m.log[len(m.log)-maxLogEntries:]
	}
	m.refreshLog()
}

func (m *controlModel) refreshLog() {
	follow := m.viewport.AtBottom()
	lines := make([]string, len(m.log))
	for i, e := range m.log {
		lines[i] = m.styles.renderLogEntry(e)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *controlModel) resize() {
	m.viewport.Width = max(m.width-6, 20)
	h := m.height - chromeHeight
	if m.help.ShowAll {
		h -= 3
	}
	m.viewport.Height = max(h, minLogHeight)
	m.input.Width = max(m.width-10, 20)
	m.help.Width = m.width
	m.refreshLog()
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := m.styles
	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("CMGSTAT CONTROL"))
	s.WriteString(" ")
	s.WriteString(st.header.Render("| " + m.target.info + " | "))
	s.WriteString(m.renderConnectionStatus())
	s.WriteString("\n")
	if m.lastStatus != "" {
		s.WriteString(" " + st.status.Render(m.lastStatus))
	}
	s.WriteString("\n\n")

	panelWidth := max((m.width-6)/3, 24)
	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		st.box.Width(panelWidth).Render(m.renderAttitude()),
		st.box.Width(panelWidth).Render(m.renderWheels()),
		st.box.Width(panelWidth).Render(m.renderGimbal()),
	)
	s.WriteString(panels)
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")

	logBox := st.box
	if !m.input.Focused() {
		logBox = st.focusedBox
	}
	s.WriteString(st.label.Render(" EVENTS"))
	s.WriteString("\n")
	if len(m.log) == 0 {
		s.WriteString(logBox.Width(m.width - 4).Render(st.header.Render("(no events yet)")))
	} else {
		s.WriteString(logBox.Width(m.width - 4).Render(m.viewport.View()))
	}
	s.WriteString("\n")

	if m.input.Focused() {
		s.WriteString(st.focusedBox.Width(m.width - 4).Render(m.input.View()))
		s.WriteString("\n")
	}
	s.WriteString(m.help.View(m.keys))

	return s.String()
}

func (m controlModel) renderConnectionStatus() string {
	st := m.styles
	switch m.state {
	case link.StateConnected:
		return st.value.Render(m.status)
	case link.StateConnecting:
		return st.warning.Render(m.status)
	case link.StateLost:
		return st.err.Render(m.status)
	}
	return st.header.Render(m.status)
}

func (m controlModel) renderAttitude() string {
	st := m.styles
	t := &m.telemetry
	if !m.hasTelemetry {
		return st.label.Render("ATTITUDE") + "\n" + st.header.Render("No telemetry data")
	}

	lines := []string{
		st.label.Render("ATTITUDE") + "  " + st.header.Render("t="+formatUptime(uint64(t.TimestampMs))),
		st.field("Roll: ", fmt.Sprintf("%8.2f°", t.Roll)),
		st.field("Pitch:", fmt.Sprintf("%8.2f°", t.Pitch)),
		st.field("Yaw:  ", fmt.Sprintf("%8.2f°", t.Yaw)),
		st.field("Gyro: ", fmt.Sprintf("%.2f %.2f %.2f °/s", t.GyroX, t.GyroY, t.GyroZ)),
		st.field("Accel:", fmt.Sprintf("%.3f %.3f g", t.AccelX, t.AccelY)),
		st.field("Comm: ", fmt.Sprintf("0b%08b", t.CommBits)),
	}
	return strings.Join(lines, "\n")
}

func (m controlModel) renderWheels() string {
	st := m.styles
	t := &m.telemetry

	state := "STOPPED"
	if t.WheelRunning() {
		state = "RUNNING"
	}
	lines := []string{
		st.label.Render("WHEELS") + "  " + st.header.Render(state),
		st.field("Setpoint:", fmt.Sprintf("%d rpm", m.targetRPM)),
		st.field("Target:  ", fmt.Sprintf("%d rpm", t.TargetRPM)),
		st.field("Wheel 1: ", fmt.Sprintf("%d rpm  %.1f%%", t.Wheel1RPM, t.Wheel1PWM)),
		st.field("Wheel 2: ", fmt.Sprintf("%d rpm  %.1f%%", t.Wheel2RPM, t.Wheel2PWM)),
		st.field("PID:     ", fmt.Sprintf("%.6g %.6g %.6g", t.WheelKp, t.WheelKi, t.WheelKd)),
		st.field("Torque:  ", fmt.Sprintf("%.3f", t.Torque())),
	}
	return strings.Join(lines, "\n")
}

func (m controlModel) renderGimbal() string {
	st := m.styles
	t := &m.telemetry

	balancing := st.header.Render("OFF")
	if t.BalancingEnabled() {
		balancing = st.value.Render("ON")
	}
	lines := []string{
		st.label.Render("GIMBAL / BALANCING"),
		st.field("Angle:  ", fmt.Sprintf("%7.2f° (target %.1f°)", t.GimbalAngle, t.GimbalTarget)),
		st.field("Rate:   ", fmt.Sprintf("%7.2f°/s", t.GimbalVelocity)),
		st.field("Servos: ", fmt.Sprintf("%.1f° %.1f°", t.Gimbal1, t.Gimbal2)),
		st.label.Render("Balancing:") + " " + balancing,
		st.field("K:      ", fmt.Sprintf("%.2f %.3f %.2f", t.BalKp, t.BalKi, t.BalKd)),
		st.field("Washout:", fmt.Sprintf("%.3f", t.WashoutGain)),
	}
	return strings.Join(lines, "\n")
}

func (m controlModel) renderStatisticsBar() string {
	st := m.styles
	stats := m.snapshot.Stats

	candidates := stats.ValidFrames + stats.ChecksumFailures
	var failPercent float64
	if candidates > 0 {
		failPercent = float64(stats.ChecksumFailures) * 100.0 / float64(candidates)
	}
	fails := st.value.Render("0.0%")
	if failPercent > 0 {
		fails = st.err.Render(fmt.Sprintf("%.1f%%", failPercent))
	}

	content := strings.Join([]string{
		st.field("Frames:", fmt.Sprintf("%d", stats.ValidFrames)),
		st.label.Render("Fails:") + " " + fails,
		st.field("Rate:", fmt.Sprintf("%.1f f/s", stats.FrameRate)),
		st.field("Bytes:", fmt.Sprintf("%d", stats.BytesReceived)),
		st.field("Text:", fmt.Sprintf("%d", stats.TextLines)),
		st.field("Overflows:", fmt.Sprintf("%d", stats.Overflows)),
		st.field("Checksum:", m.variant.String()),
	}, "  ")
	if m.snapshot.Dropped > 0 {
		content += "  " + st.warning.Render(fmt.Sprintf("dropped %d", m.snapshot.Dropped))
	}

	return st.box.Width(m.width - 4).Render(content)
}
