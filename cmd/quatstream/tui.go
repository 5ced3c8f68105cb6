package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"quatstream/pkg/engine"
	"quatstream/pkg/protocol"
	"quatstream/pkg/transport"
)

const tuiRefresh = 100 * time.Millisecond

type refreshMsg time.Time

type connectedMsg struct {
	err error
}

type tuiModel struct {
	ctx context.Context
	app *streamApp

	state   transport.State
	phase   engine.Phase
	clock   engine.FrameClock
	latest  protocol.OrientationSample
	sent    uint64
	skipped uint64
	status  string
}

func newTUIModel(ctx context.Context, app *streamApp) tuiModel {
	return tuiModel{ctx: ctx, app: app, status: "press c to connect, s to start"}
}

func runTUI(ctx context.Context, app *streamApp, out io.Writer) error {
	defer app.shutdown()
	p := tea.NewProgram(newTUIModel(ctx, app), tea.WithContext(ctx), tea.WithOutput(out))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func (m tuiModel) Init() tea.Cmd {
	return refresh()
}

func refresh() tea.Cmd {
	return tea.Tick(tuiRefresh, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case connectedMsg:
		if msg.err != nil {
			m.status = "connect failed: " + msg.err.Error()
		} else {
			m.status = "connected to " + m.app.stream.RemoteAddr()
		}
		return m.snapshot(), nil
	case refreshMsg:
		return m.snapshot(), refresh()
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "c":
		result := m.app.connect(m.ctx)
		m.status = "connecting..."
		return m.snapshot(), func() tea.Msg {
			return connectedMsg{err: <-result}
		}
	case "d":
		m.app.stream.Disconnect()
		m.status = "disconnected"
	case "s":
		if m.app.sched.Phase() == engine.Running {
			m.app.sched.Stop()
			m.status = "frame loop stopping"
		} else {
			m.app.sched.Start()
			m.status = "frame loop running"
		}
	}
	return m.snapshot(), nil
}

func (m tuiModel) snapshot() tuiModel {
	m.state = m.app.stream.State()
	m.phase = m.app.sched.Phase()
	m.app.sched.Exclusive(func(clock engine.FrameClock) {
		m.clock = clock
		if s, ok := m.app.pump.Latest(); ok {
			m.latest = s
		}
	})
	m.sent, m.skipped = m.app.pump.Counts()
	return m
}

func (m tuiModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "quatstream → %s:%d\n\n", m.app.cfg.Stream.Host, m.app.cfg.Stream.Port)
	fmt.Fprintf(&b, "  connection  %s\n", m.state)
	fmt.Fprintf(&b, "  frame loop  %s\n", m.phase)
	fmt.Fprintf(&b, "  frames      %d (%d fps)\n", m.clock.FrameCount, m.clock.FPS)
	fmt.Fprintf(&b, "  packets     %d sent, %d skipped\n", m.sent, m.skipped)
	fmt.Fprintf(&b, "  attitude    w=%+.4f x=%+.4f y=%+.4f z=%+.4f\n", m.latest.W, m.latest.X, m.latest.Y, m.latest.Z)
	if err := m.app.lastError(); err != nil {
		fmt.Fprintf(&b, "  last error  %v\n", err)
	}
	fmt.Fprintf(&b, "\n  %s\n\n", m.status)
	b.WriteString("  [c] connect  [d] disconnect  [s] start/stop  [q] quit\n")
	return b.String()
}
