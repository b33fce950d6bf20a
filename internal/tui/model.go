// SPDX-License-Identifier: GPL-3.0-or-later

// Package tui is the interactive terminal front end of sockdbg.
//
// The screen has a server panel and a client panel, each with its own log,
// and a command line at the bottom. Every request and every follow-up op
// of the [*session.Session] runs as a tea.Cmd; results come back as
// messages and are timestamped on arrival.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bassosimone/sockpoll/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	dataStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("57")).
			Bold(true)
)

// maxLines bounds the history kept for each panel.
const maxLines = 500

// resultMsg carries the outcome of a request or op.
type resultMsg session.Result

// line is a timestamped event.
type line struct {
	t  time.Time
	ev session.Event
}

// Model is the top-level bubbletea model.
type Model struct {
	sess      *session.Session
	defaults  Endpoints
	ctx       context.Context
	cancel    context.CancelFunc
	timeNow   func() time.Time
	input     string
	server    []line
	client    []line
	state     session.State
	width     int
	height    int
	status    string
	statusErr bool
}

// New returns a Model driving sess. The ops it starts stop when the model
// quits.
func New(sess *session.Session, defaults Endpoints) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		sess:     sess,
		defaults: defaults,
		ctx:      ctx,
		cancel:   cancel,
		timeNow:  time.Now,
		status:   "type help for the list of commands",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// request runs a session request off the render loop.
func request(fn func() session.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg(fn())
	}
}

// run runs op off the render loop.
func run(ctx context.Context, op session.Op) tea.Cmd {
	return func() tea.Msg {
		return resultMsg(op(ctx))
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m.quit()
		case tea.KeyEnter:
			return m.execute()
		case tea.KeyBackspace:
			if runes := []rune(m.input); len(runes) > 0 {
				m.input = string(runes[:len(runes)-1])
			}
		case tea.KeyCtrlU:
			m.input = ""
		case tea.KeySpace:
			m.input += " "
		case tea.KeyRunes:
			m.input += string(msg.Runes)
		}
		return m, nil

	case resultMsg:
		m.record(session.Result(msg))
		m.state = m.sess.Snapshot()
		cmds := make([]tea.Cmd, 0, len(msg.Next))
		for _, op := range msg.Next {
			cmds = append(cmds, run(m.ctx, op))
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

// record appends the events of res to their panels.
func (m *Model) record(res session.Result) {
	now := m.timeNow()
	for _, ev := range res.Events {
		entry := line{t: now, ev: ev}
		if ev.Panel == session.ServerPanel {
			m.server = appendBounded(m.server, entry)
		} else {
			m.client = appendBounded(m.client, entry)
		}
	}
}

func appendBounded(lines []line, entry line) []line {
	lines = append(lines, entry)
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	m.sess.Close()
	return m, tea.Quit
}

// execute parses and runs the command line.
func (m Model) execute() (tea.Model, tea.Cmd) {
	text := m.input
	m.input = ""
	cmd, err := parseCommand(text, m.defaults)
	if err != nil {
		if !errors.Is(err, errEmptyCommand) {
			m.status, m.statusErr = err.Error(), true
		}
		return m, nil
	}
	m.status, m.statusErr = "> "+strings.TrimSpace(text), false

	ctx, sess := m.ctx, m.sess
	switch cmd.verb {
	case verbListen:
		if cmd.tcp {
			return m, request(func() session.Result { return sess.StartTCPServer(ctx, cmd.host, cmd.port) })
		}
		return m, request(func() session.Result { return sess.StartUDPServer(ctx, cmd.host, cmd.port) })

	case verbStop:
		if cmd.tcp {
			return m, request(sess.StopTCPServer)
		}
		return m, request(sess.StopUDPServer)

	case verbConnect:
		if cmd.tcp {
			return m, request(func() session.Result { return sess.ConnectTCP(ctx, cmd.host, cmd.port) })
		}
		return m, request(func() session.Result { return sess.ConnectUDP(ctx, cmd.host, cmd.port) })

	case verbDisconnect:
		if cmd.tcp {
			return m, request(sess.DisconnectTCP)
		}
		return m, request(sess.DisconnectUDP)

	case verbSend, verbHex:
		if cmd.server {
			return m, request(func() session.Result { return sess.ServerSend(cmd.mode(), cmd.text) })
		}
		return m, request(func() session.Result { return sess.ClientSend(cmd.mode(), cmd.text) })

	case verbCheck, verbUncheck:
		if cmd.index >= len(m.state.Peers) {
			m.status, m.statusErr = fmt.Sprintf("no tcp client #%d", cmd.index+1), true
			return m, nil
		}
		addr := m.state.Peers[cmd.index].Address
		return m, request(func() session.Result { return sess.Check(addr, cmd.verb == verbCheck) })

	case verbAll:
		return m, request(sess.CheckAll)

	case verbKick:
		return m, request(sess.DisconnectChecked)

	case verbClear:
		m.server, m.client = nil, nil
		return m, nil

	case verbHelp:
		for _, text := range helpText {
			m.server = appendBounded(m.server, line{t: m.timeNow(), ev: session.Event{
				Panel: session.ServerPanel, Level: session.Info, Text: text}})
		}
		return m, nil

	case verbQuit:
		return m.quit()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading…"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("sockdbg"))
	sb.WriteString("\n")

	panelWidth := max(m.width/2-2, 20)
	serverHeader := m.serverHeader()
	clientHeader := m.clientHeader()
	headerLines := max(len(serverHeader), len(clientHeader))
	// title(1) + borders(2) + separator(1) + input(1) + status(1)
	logHeight := max(m.height-6-headerLines, 1)

	left := renderPanel(serverHeader, headerLines, m.server, logHeight, panelWidth-4)
	right := renderPanel(clientHeader, headerLines, m.client, logHeight, panelWidth-4)
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Width(panelWidth).Render(left),
		panelStyle.Width(panelWidth).Render(right),
	))
	sb.WriteString("\n")

	sb.WriteString(promptStyle.Render("> "))
	sb.WriteString(m.input)
	sb.WriteString("\n")
	if m.statusErr {
		sb.WriteString(errorStyle.Render(m.status))
	} else {
		sb.WriteString(dimStyle.Render(m.status))
	}
	return sb.String()
}

func (m Model) serverHeader() []string {
	out := []string{
		headerStyle.Render("SERVER"),
		"tcp " + describe(m.state.TCPServer.IsValid(), m.state.TCPServer.String()),
		"udp " + describe(m.state.UDPServer.IsValid(), m.state.UDPServer.String()),
	}
	if len(m.state.Peers) == 0 && m.state.TCPServer.IsValid() {
		out = append(out, dimStyle.Render("no tcp clients"))
	}
	for idx, peer := range m.state.Peers {
		mark := "[ ]"
		if peer.Checked {
			mark = "[x]"
		}
		out = append(out, fmt.Sprintf("%s %d. %s", mark, idx+1, peer.Address))
	}
	return out
}

func (m Model) clientHeader() []string {
	udp := describe(m.state.UDPClient.IsValid(), m.state.UDPClient.String())
	if m.state.UDPClient.IsValid() {
		udp += " from " + m.state.UDPClientLocal.String()
	}
	return []string{
		headerStyle.Render("CLIENT"),
		"tcp " + describe(m.state.TCPClient.IsValid(), m.state.TCPClient.String()),
		"udp " + udp,
	}
}

func describe(active bool, addr string) string {
	if !active {
		return dimStyle.Render("off")
	}
	return addr
}

// renderPanel pads the header to headerLines and shows the tail of lines
// that fits in height.
func renderPanel(header []string, headerLines int, lines []line, height, width int) string {
	out := append([]string{}, header...)
	for len(out) < headerLines {
		out = append(out, "")
	}
	out = append(out, strings.Repeat("─", max(width, 1)))

	start := max(len(lines)-height, 0)
	for _, entry := range lines[start:] {
		out = append(out, formatLine(entry))
	}
	return strings.Join(out, "\n")
}

func formatLine(entry line) string {
	text := entry.t.Format("15:04:05") + " " + entry.ev.Text
	switch entry.ev.Level {
	case session.Error:
		return errorStyle.Render(text)
	case session.Data:
		return dataStyle.Render(text)
	default:
		return infoStyle.Render(text)
	}
}
