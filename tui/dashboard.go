package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fprintd-go/fprintd/adminapi"
)

// LogEntry represents one line in the activity log panel.
type LogEntry struct {
	Timestamp time.Time
	Level     string // info, warn, error
	Message   string
}

// DashboardUpdateMsg is sent when dashboard data is updated.
type DashboardUpdateMsg struct {
	Draining bool
	Devices  []adminapi.DeviceSnapshot
	History  []adminapi.AuditRecord
}

// TickMsg is sent periodically to refresh the dashboard.
type TickMsg time.Time

// DashboardModel is the main TUI dashboard model for fprint-mon.
type DashboardModel struct {
	title           string
	width           int
	height          int
	refreshInterval time.Duration

	spinner spinner.Model
	logView viewport.Model

	fetcher *DataFetcher

	draining        bool
	devices         []adminapi.DeviceSnapshot
	selectedDevice  int
	logs            []LogEntry
	maxLogs         int
	lastRefresh     time.Time
	connectionError error

	focused   string // "devices", "logs"
	styles    *Styles
	startTime time.Time
	quitting  bool
}

// DashboardConfig holds configuration for the dashboard.
type DashboardConfig struct {
	Title           string
	RefreshInterval time.Duration
	Fetcher         *DataFetcher
}

// DefaultDashboardConfig returns default dashboard configuration.
func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		Title:           "fprintd monitor",
		RefreshInterval: time.Second,
	}
}

// NewDashboardModel creates a new dashboard model.
func NewDashboardModel() *DashboardModel {
	return NewDashboardModelWithConfig(DefaultDashboardConfig())
}

// NewDashboardModelWithConfig creates a new dashboard model with custom configuration.
func NewDashboardModelWithConfig(cfg DashboardConfig) *DashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = time.Second
	}
	if cfg.Title == "" {
		cfg.Title = "fprintd monitor"
	}

	return &DashboardModel{
		title:           cfg.Title,
		refreshInterval: cfg.RefreshInterval,
		fetcher:         cfg.Fetcher,
		spinner:         s,
		logView:         viewport.New(80, 10),
		maxLogs:         100,
		focused:         "devices",
		styles:          DefaultStyles(),
		startTime:       time.Now(),
	}
}

// Init initializes the dashboard.
func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickEvery(m.refreshInterval),
		m.fetchData(),
	)
}

// FetchDataMsg is sent when a data fetch completes.
type FetchDataMsg struct {
	Data  *DashboardUpdateMsg
	Error error
}

func (m *DashboardModel) fetchData() tea.Cmd {
	return func() tea.Msg {
		if m.fetcher == nil {
			return FetchDataMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := m.fetcher.FetchDashboardData(ctx)
		return FetchDataMsg{Data: data, Error: err}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages.
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = msg.Width - 4
		m.logView.Height = msg.Height/3 - 2

	case TickMsg:
		cmds = append(cmds, tickEvery(m.refreshInterval))
		cmds = append(cmds, m.fetchData())

	case FetchDataMsg:
		m.lastRefresh = time.Now()
		m.connectionError = msg.Error
		if msg.Data != nil {
			m.draining = msg.Data.Draining
			m.devices = msg.Data.Devices
			if m.selectedDevice >= len(m.devices) {
				m.selectedDevice = 0
			}
			if len(msg.Data.History) > 0 {
				m.logs = historyToLog(msg.Data.History)
				m.logView.SetContent(m.renderLogs())
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *DashboardModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		switch m.focused {
		case "devices":
			m.focused = "logs"
		case "logs":
			m.focused = "devices"
		}

	case "j", "down":
		if m.focused == "devices" {
			if m.selectedDevice < len(m.devices)-1 {
				m.selectedDevice++
			}
		} else {
			m.logView.LineDown(1)
		}

	case "k", "up":
		if m.focused == "devices" {
			if m.selectedDevice > 0 {
				m.selectedDevice--
			}
		} else {
			m.logView.LineUp(1)
		}

	case "g":
		if m.focused == "logs" {
			m.logView.GotoTop()
		}

	case "G":
		if m.focused == "logs" {
			m.logView.GotoBottom()
		}

	case "r":
		cmds = append(cmds, m.fetchData())
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m *DashboardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		Background(lipgloss.Color("#1E1E2E")).
		Padding(0, 2).
		Width(m.width)

	uptime := time.Since(m.startTime)
	connStatus := m.styles.Success.Render("●")
	if m.connectionError != nil {
		connStatus = m.styles.Error.Render("●")
	}
	draining := ""
	if m.draining {
		draining = m.styles.Warning.Render(" draining")
	}

	title := fmt.Sprintf("%s  %s %s%s  Uptime: %s",
		m.spinner.View(), m.title, connStatus, draining, FormatDuration(uptime))
	b.WriteString(titleStyle.Render(title) + "\n\n")

	halfWidth := (m.width - 4) / 2
	devicesPanel := m.renderDevicesPanel(halfWidth)
	detailPanel := m.renderDetailPanel(halfWidth)
	topSection := lipgloss.JoinHorizontal(lipgloss.Top, devicesPanel, "  ", detailPanel)
	b.WriteString(topSection + "\n\n")

	b.WriteString(m.renderLogsPanel() + "\n")

	b.WriteString(m.renderHelp())

	return b.String()
}

func (m *DashboardModel) renderDevicesPanel(width int) string {
	panelStyle := m.styles.Panel
	if m.focused == "devices" {
		panelStyle = m.styles.ActivePanel
	}

	var body strings.Builder
	if m.connectionError != nil {
		body.WriteString(m.styles.Error.Render(fmt.Sprintf("  admin socket unreachable: %v\n", m.connectionError)))
	} else if len(m.devices) == 0 {
		body.WriteString(m.styles.Muted.Render("  No readers registered\n"))
	} else {
		for i, d := range m.devices {
			cursor := "  "
			if i == m.selectedDevice {
				cursor = "> "
			}
			status := "pending"
			if d.Busy {
				status = "in_progress"
			} else if d.Claimed {
				status = "active"
			}
			icon := m.styles.StatusIcon(status)
			owner := d.ClaimOwner
			if owner == "" {
				owner = "-"
			}
			line := fmt.Sprintf("%s%s %-10s %-12s %s", cursor, icon, d.ID, d.OperationState, owner)
			if i == m.selectedDevice {
				line = m.styles.Subtitle.Render(line)
			}
			body.WriteString(line + "\n")
		}
	}

	return panelStyle.Width(width).Render(
		m.styles.SectionHead.Render("Readers") + "\n" + body.String())
}

func (m *DashboardModel) renderDetailPanel(width int) string {
	var body strings.Builder

	if len(m.devices) == 0 || m.selectedDevice >= len(m.devices) {
		body.WriteString(m.styles.Muted.Render("  Select a reader for details\n"))
		return m.styles.Panel.Width(width).Render(
			m.styles.SectionHead.Render("Detail") + "\n" + body.String())
	}

	d := m.devices[m.selectedDevice]
	fmt.Fprintf(&body, "  %s %s\n", m.styles.Muted.Render("Path:"), d.Path)
	fmt.Fprintf(&body, "  %s %s\n", m.styles.Muted.Render("Driver:"), d.Driver)
	fmt.Fprintf(&body, "  %s %s\n", m.styles.Muted.Render("Name:"), d.Name)
	fmt.Fprintf(&body, "  %s %v\n", m.styles.Muted.Render("Claimed:"), d.Claimed)
	if d.Claimed {
		fmt.Fprintf(&body, "  %s %s\n", m.styles.Muted.Render("Owner:"), d.ClaimOwner)
	}
	fmt.Fprintf(&body, "  %s %v\n", m.styles.Muted.Render("Finger present:"), d.FingerPresent)
	fmt.Fprintf(&body, "  %s %v\n", m.styles.Muted.Render("Busy:"), d.Busy)

	return m.styles.Panel.Width(width).Render(
		m.styles.SectionHead.Render("Detail") + "\n" + body.String())
}

func (m *DashboardModel) renderLogsPanel() string {
	panelStyle := m.styles.Panel
	if m.focused == "logs" {
		panelStyle = m.styles.ActivePanel
	}

	content := m.renderLogs()
	if content == "" {
		content = m.styles.Muted.Render("  No recorded operations yet")
	}

	logsHeight := 10
	if m.height > 0 {
		logsHeight = m.height/3 - 4
		if logsHeight < 5 {
			logsHeight = 5
		}
	}
	m.logView.Height = logsHeight
	m.logView.SetContent(content)

	return panelStyle.Width(m.width - 4).Render(
		m.styles.SectionHead.Render("Recent Operations") + "\n" + m.logView.View())
}

func (m *DashboardModel) renderLogs() string {
	var b strings.Builder
	for _, entry := range m.logs {
		timestamp := entry.Timestamp.Format("15:04:05")
		var levelStyle lipgloss.Style
		switch entry.Level {
		case "error":
			levelStyle = m.styles.Error
		case "warn":
			levelStyle = m.styles.Warning
		default:
			levelStyle = m.styles.Info
		}
		line := fmt.Sprintf("  %s %s %s",
			m.styles.Muted.Render(timestamp),
			levelStyle.Render(fmt.Sprintf("%-5s", entry.Level)),
			entry.Message)
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m *DashboardModel) renderHelp() string {
	helpStyle := lipgloss.NewStyle().Foreground(ColorMuted).Padding(0, 2)

	keys := []struct{ key, desc string }{
		{"Tab", "switch panel"},
		{"j/k", "navigate"},
		{"g/G", "top/bottom"},
		{"r", "refresh"},
		{"q", "quit"},
	}

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", m.styles.HelpKey.Render(k.key), m.styles.HelpDesc.Render(k.desc)))
	}

	return helpStyle.Render(strings.Join(parts, "  •  "))
}
