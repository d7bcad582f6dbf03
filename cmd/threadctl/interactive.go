package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/kobject/exception"
	"github.com/wippyai/kobject/process"
	"github.com/wippyai/kobject/thread"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	faultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	deadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const (
	refreshInterval = 100 * time.Millisecond
	maxEvents       = 8
)

type interactiveModel struct {
	err     error
	session *session
	cancel  context.CancelFunc
	ctx     context.Context
	status  string
	events  []string
	table   table.Model
	opts    options
}

type tickMsg time.Time

type packetMsg exception.Packet

type loadedMsg struct {
	err     error
	session *session
}

func newInteractiveModel(opts options) *interactiveModel {
	ctx, cancel := context.WithCancel(context.Background())

	keys := table.DefaultKeyMap()
	keys.LineUp = key.NewBinding(key.WithKeys("up"))
	keys.LineDown = key.NewBinding(key.WithKeys("down"))

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "KOID", Width: 6},
			{Title: "NAME", Width: 12},
			{Title: "STATE", Width: 12},
			{Title: "INFO", Width: 10},
			{Title: "WAIT PORT", Width: 10},
			{Title: "RUNTIME", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(opts.threads+1),
		table.WithKeyMap(keys),
	)

	return &interactiveModel{
		ctx:    ctx,
		cancel: cancel,
		table:  t,
		opts:   opts,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := newSession(m.ctx, m.opts)
	return loadedMsg{session: s, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) receive() tea.Msg {
	pkt, err := m.session.debugger.Receive(m.ctx)
	if err != nil {
		return nil
	}
	return packetMsg(pkt)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			if m.session != nil {
				m.session.close(context.Background())
			}
			return m, tea.Quit
		}
		if m.session == nil {
			return m, nil
		}
		if m.control(msg.String()) {
			return m, nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.refresh()
		return m, tea.Batch(tick(), m.receive)

	case tickMsg:
		m.refresh()
		return m, tick()

	case packetMsg:
		m.record(exception.Packet(msg))
		m.refresh()
		return m, m.receive
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// control applies a key to the selected thread and reports whether the key
// was a control key.
func (m *interactiveModel) control(k string) bool {
	th := m.selected()
	var err error
	switch k {
	case "s":
		err = th.Suspend()
	case "r":
		err = th.Resume()
	case "k":
		th.Kill()
	case "K":
		m.session.proc.Kill()
	case "c":
		err = th.MarkExceptionHandled(exception.StatusResume)
	case "n":
		err = th.MarkExceptionHandled(exception.StatusTryNext)
	default:
		return false
	}
	if err != nil {
		m.status = faultStyle.Render(err.Error())
	} else {
		m.status = ""
	}
	m.refresh()
	return true
}

func (m *interactiveModel) selected() *thread.Thread {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.session.threads) {
		i = 0
	}
	return m.session.threads[i]
}

func (m *interactiveModel) record(pkt exception.Packet) {
	var line string
	if pkt.Kind == exception.PacketNotification {
		line = eventStyle.Render(fmt.Sprintf("[%d] %s", pkt.Target.Koid(), pkt.Notification))
	} else {
		line = faultStyle.Render(fmt.Sprintf("[%d] exception %s at pc %#x (c resume, n next)",
			pkt.Target.Koid(), pkt.Report.Type, pkt.Report.PC))
	}
	m.events = append(m.events, line)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func (m *interactiveModel) refresh() {
	if m.session == nil {
		return
	}
	rows := make([]table.Row, 0, len(m.session.threads))
	for _, th := range m.session.threads {
		info := th.Info()
		wait := ""
		if info.WaitExceptionPortType != exception.PortNone {
			wait = info.WaitExceptionPortType.String()
		}
		rows = append(rows, table.Row{
			fmt.Sprint(th.Koid()),
			th.Name(),
			th.State().String(),
			info.State.String(),
			wait,
			th.Runtime().Round(time.Microsecond).String(),
		})
	}
	m.table.SetRows(rows)
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return faultStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.session == nil {
		return "Loading program..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Thread Control"))
	fmt.Fprintf(&b, " process %d %s", m.session.proc.Koid(), m.opts.entry)
	if m.session.proc.State() == process.StateDead {
		b.WriteString(" ")
		b.WriteString(deadStyle.Render("exited"))
	}
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	for _, e := range m.events {
		b.WriteString(e)
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select • s suspend • r resume • k kill • K kill process • c/n exception • q quit"))
	return b.String()
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newInteractiveModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
