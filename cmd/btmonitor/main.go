// Command btmonitor loads a tree descriptor, ticks it at a fixed rate, and
// renders its internal/bt.Event lifecycle feed as a scrolling terminal
// display. It is a standalone visualizer rather than an attach-to-running-
// process tool: it owns the Manager it ticks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/kittinook/behavior-tree/internal/bt"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFail   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleRun    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func main() {
	descriptorPath := flag.String("descriptor", "", "path to a YAML tree descriptor to run and monitor (required)")
	tickRateHz := flag.Float64("tick-rate", 10, "ticks per second")
	flag.Parse()

	if *descriptorPath == "" {
		fmt.Fprintln(os.Stderr, "btmonitor: -descriptor is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(*descriptorPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "btmonitor: %v\n", err)
		os.Exit(1)
	}

	mgr := bt.NewManager(bt.ManagerConfig{})
	events := make(chan bt.Event, 256)
	mgr.Bus().Subscribe(func(evt bt.Event) {
		select {
		case events <- evt:
		default:
		}
	})

	if err := mgr.LoadFromConfig(context.Background(), data, bt.ActionRegistry{}, bt.ConditionRegistry{}); err != nil {
		fmt.Fprintf(os.Stderr, "btmonitor: %v\n", err)
		os.Exit(1)
	}

	m := newModel(mgr, events, time.Duration(float64(time.Second)/(*tickRateHz)))
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "btmonitor: %v\n", err)
		os.Exit(1)
	}
}

type tickMsg time.Time

type eventMsg bt.Event

type model struct {
	mgr      *bt.Manager
	events   chan bt.Event
	interval time.Duration
	feed     []bt.Event
	last     bt.Status
	quitting bool
}

func newModel(mgr *bt.Manager, events chan bt.Event, interval time.Duration) model {
	return model{mgr: mgr, events: events, interval: interval, last: bt.StatusInvalid}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.waitForEventCmd())
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) waitForEventCmd() tea.Cmd {
	return func() tea.Msg {
		evt := <-m.events
		return eventMsg(evt)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		status, _ := m.mgr.TickOnce(context.Background())
		m.last = status
		return m, m.tickCmd()
	case eventMsg:
		m.feed = append(m.feed, bt.Event(msg))
		if len(m.feed) > 200 {
			m.feed = m.feed[len(m.feed)-200:]
		}
		return m, m.waitForEventCmd()
	}
	return m, nil
}

func (m model) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}
	out := styleHeader.Render(fmt.Sprintf("btmonitor - root status: %s", m.last)) + "\n\n"
	start := 0
	if len(m.feed) > 30 {
		start = len(m.feed) - 30
	}
	for _, evt := range m.feed[start:] {
		out += formatEvent(evt) + "\n"
	}
	out += "\n" + styleDim.Render("press q to quit")
	view := tea.NewView(out)
	view.AltScreen = true
	return view
}

func formatEvent(evt bt.Event) string {
	line := fmt.Sprintf("%-20s %-14s %s", evt.NodeName, evt.Kind, evt.NodeID)
	switch evt.Kind {
	case bt.EventError:
		return styleFail.Render(line)
	case bt.EventStatusChanged:
		if status, ok := evt.Payload.(bt.Status); ok {
			switch status {
			case bt.StatusSuccess:
				return styleOK.Render(line)
			case bt.StatusFailure, bt.StatusError:
				return styleFail.Render(line)
			case bt.StatusRunning:
				return styleRun.Render(line)
			}
		}
	}
	return styleDim.Render(line)
}
