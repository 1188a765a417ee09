package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"studio/internal/api"
	"studio/internal/ipc"
	"studio/internal/refresh"
)

const (
	monitorTableHeight = 12
	progressBarWidth   = 30
)

var (
	monitorTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	monitorMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	monitorErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	monitorOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	monitorPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// monitorActions is the part of the daemon client the monitor drives.
type monitorActions interface {
	Queue(ctx context.Context) (*api.QueueView, error)
	EndProcess(ctx context.Context) (*api.ActionResponse, error)
}

type monitorModel struct {
	ctx     context.Context
	events  <-chan api.Event
	actions monitorActions

	stats   api.SystemStats
	queue   api.QueueView
	current api.MonitorState
	layout  api.LayoutState
	table   table.Model

	endLabel string
	status   string
	width    int
	err      error
}

type monitorEventMsg api.Event

type monitorClosedMsg struct{}

type monitorActionMsg struct {
	resp *api.ActionResponse
	view *api.QueueView
	err  error
}

func newMonitorModel(ctx context.Context, events <-chan api.Event, actions monitorActions) monitorModel {
	columns := make([]table.Column, 0, len(queueTableHeaders))
	for _, title := range queueTableHeaders {
		width := 10
		switch title {
		case "Type":
			width = 14
		case "Status":
			width = 14
		case "Elapsed":
			width = 16
		}
		columns = append(columns, table.Column{Title: title, Width: width})
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(monitorTableHeight),
		table.WithFocused(true),
	)
	return monitorModel{ctx: ctx, events: events, actions: actions, table: t}
}

func waitForEvent(events <-chan api.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-events
		if !ok {
			return monitorClosedMsg{}
		}
		return monitorEventMsg(evt)
	}
}

func (m monitorModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case monitorEventMsg:
		m = m.apply(api.Event(msg))
		return m, waitForEvent(m.events)
	case monitorClosedMsg:
		m.err = errors.New("daemon event stream closed")
		return m, tea.Quit
	case monitorActionMsg:
		if msg.err != nil {
			m.status = "error: " + msg.err.Error()
			return m, nil
		}
		if msg.resp != nil {
			m = m.setQueue(msg.resp.Queue)
			m.current = msg.resp.Monitor
			m.layout = msg.resp.Layout
			m.status = actionSummary(msg.resp)
			if msg.resp.EndButton != nil {
				m.endLabel = msg.resp.EndButton.Label
			}
		}
		if msg.view != nil {
			m = m.setQueue(*msg.view)
			m.status = "Refreshed"
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "x":
			if !m.current.Active || m.endLabel != "" {
				return m, nil
			}
			m.endLabel = refresh.CancellingLabel
			return m, m.endProcess()
		case "r":
			return m, m.refresh()
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m monitorModel) apply(evt api.Event) monitorModel {
	if evt.Stats != nil {
		m.stats = *evt.Stats
	}
	if evt.Queue != nil {
		m = m.setQueue(*evt.Queue)
	}
	if evt.Monitor != nil {
		if evt.Monitor.JobID != m.current.JobID {
			m.endLabel = ""
		}
		m.current = *evt.Monitor
	}
	if evt.Layout != nil {
		m.layout = *evt.Layout
	}
	return m
}

func (m monitorModel) setQueue(view api.QueueView) monitorModel {
	m.queue = view
	rows := buildQueueViewRows(&view, nil)
	tableRows := make([]table.Row, 0, len(rows))
	for _, row := range rows {
		tableRows = append(tableRows, table.Row(row))
	}
	m.table.SetRows(tableRows)
	return m
}

func (m monitorModel) endProcess() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.actions.EndProcess(m.ctx)
		return monitorActionMsg{resp: resp, err: err}
	}
}

func (m monitorModel) refresh() tea.Cmd {
	return func() tea.Msg {
		view, err := m.actions.Queue(m.ctx)
		return monitorActionMsg{view: view, err: err}
	}
}

func (m monitorModel) View() string {
	var b strings.Builder
	b.WriteString(monitorTitleStyle.Render("Studio"))
	b.WriteString("  ")
	b.WriteString(monitorMutedStyle.Render(strings.Join(append(statsToolbar(&m.stats), m.queue.StatsText), "  |  ")))
	b.WriteString("\n\n")

	current := m.renderCurrent()
	if m.layout.DisplayTop {
		b.WriteString(monitorPanelStyle.Render(current))
		b.WriteString("\n")
		b.WriteString(m.table.View())
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
		b.WriteString(monitorPanelStyle.Render(current))
	}
	b.WriteString("\n")
	if m.status != "" {
		style := monitorOKStyle
		if strings.HasPrefix(m.status, "error:") {
			style = monitorErrorStyle
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(monitorMutedStyle.Render("↑/↓ scroll  x end process  r refresh  q quit"))
	return b.String()
}

func (m monitorModel) renderCurrent() string {
	if !m.current.Active {
		return monitorMutedStyle.Render("No job running")
	}
	lines := []string{
		fmt.Sprintf("Job %s", m.current.JobID),
		fmt.Sprintf("%s %5.1f%%", progressBar(m.current.Percent, progressBarWidth), m.current.Percent),
	}
	if desc := strings.TrimSpace(m.current.Desc); desc != "" {
		lines = append(lines, desc)
	}
	if m.endLabel != "" {
		lines = append(lines, monitorErrorStyle.Render(m.endLabel))
	}
	return strings.Join(lines, "\n")
}

func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Live view of the queue, current job and system stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return errors.New("monitor requires an interactive terminal (TTY)")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				runCtx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				events, err := client.Events(runCtx)
				if err != nil {
					return err
				}
				final, err := tea.NewProgram(newMonitorModel(runCtx, events, client), tea.WithAltScreen()).Run()
				if err != nil {
					return err
				}
				if fm, ok := final.(monitorModel); ok {
					return fm.err
				}
				return nil
			})
		},
	}
}
