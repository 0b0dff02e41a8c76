package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/otafleet/internal/api"
	"github.com/muurk/otafleet/internal/client"
	"github.com/muurk/otafleet/internal/fleet"
)

// DefaultPollInterval is how often the dashboard refreshes the snapshot.
const DefaultPollInterval = 1500 * time.Millisecond

// requestTimeout bounds a single API call made from the dashboard.
const requestTimeout = 5 * time.Second

// FleetAPI is the part of the operator API the dashboard uses.
type FleetAPI interface {
	Snapshot(ctx context.Context) (*api.SnapshotResponse, error)
	Act(ctx context.Context, mac string, action fleet.Action) (*api.ActionResponse, error)
}

// Message types for async operations.
type (
	snapshotMsg struct {
		snap *api.SnapshotResponse
		err  error
	}

	actionMsg struct {
		mac    string
		action fleet.Action
		res    *api.ActionResponse
		err    error
	}

	tickMsg time.Time
)

// dashboardKeyMap defines key bindings for the dashboard.
type dashboardKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Approve key.Binding
	Deny    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view.
func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Approve, k.Deny, k.Refresh, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Approve, k.Deny},
		{k.Refresh, k.Quit},
	}
}

func newKeyMap() dashboardKeyMap {
	return dashboardKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Approve: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "approve"),
		),
		Deny: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "deny"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// DashboardModel is the live fleet view.
type DashboardModel struct {
	API       FleetAPI
	ServerURL string
	Interval  time.Duration

	Snapshot *api.SnapshotResponse
	// FetchErr is the last snapshot error; the previous snapshot stays shown.
	FetchErr error
	Loading  bool

	Cursor int
	// selectedKey keeps the selection on the same device across refreshes.
	selectedKey string

	Alert      string
	AlertIsErr bool

	Width int

	Spinner spinner.Model
	Help    help.Model
	Keys    dashboardKeyMap
}

// NewDashboardModel creates a dashboard polling api every interval.
func NewDashboardModel(fleetAPI FleetAPI, serverURL string, interval time.Duration) DashboardModel {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return DashboardModel{
		API:       fleetAPI,
		ServerURL: serverURL,
		Interval:  interval,
		Loading:   true,
		Width:     GetTerminalWidth(),
		Spinner:   s,
		Help:      help.New(),
		Keys:      newKeyMap(),
	}
}

// Init starts the first fetch and the poll timer.
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick(), m.Spinner.Tick)
}

func (m DashboardModel) fetch() tea.Cmd {
	fleetAPI := m.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		snap, err := fleetAPI.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m DashboardModel) tick() tea.Cmd {
	return tea.Tick(m.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m DashboardModel) act(mac string, action fleet.Action) tea.Cmd {
	fleetAPI := m.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := fleetAPI.Act(ctx, mac, action)
		return actionMsg{mac: mac, action: action, res: res, err: err}
	}
}

// Update handles messages and updates the model.
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = clampWidth(msg.Width, nil)
		m.Help.Width = m.Width

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		m.Loading = false
		if msg.err != nil {
			m.FetchErr = msg.err
			return m, nil
		}
		m.FetchErr = nil
		m.Snapshot = msg.snap
		m.restoreSelection()

	case actionMsg:
		if msg.err != nil {
			m.Alert = fmt.Sprintf("%s %s %s: %s", FailureMarker, msg.action, msg.mac, client.GetShortErrorMessage(msg.err))
			m.AlertIsErr = true
			return m, nil
		}
		m.Alert = fmt.Sprintf("%s %s now %s", SuccessMarker, msg.mac, msg.res.Status)
		m.AlertIsErr = false
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m DashboardModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.Keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, m.Keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.Keys.Refresh):
		m.Loading = true
		return m, m.fetch()

	case key.Matches(msg, m.Keys.Approve):
		return m.actOnSelected(fleet.ActionApprove)

	case key.Matches(msg, m.Keys.Deny):
		return m.actOnSelected(fleet.ActionDeny)
	}
	return m, nil
}

func (m DashboardModel) actOnSelected(action fleet.Action) (tea.Model, tea.Cmd) {
	d, ok := m.Selected()
	if !ok {
		return m, nil
	}
	m.Alert = ""
	return m, m.act(d.MAC, action)
}

// Selected returns the highlighted device.
func (m DashboardModel) Selected() (fleet.DeviceView, bool) {
	devices := m.devices()
	if m.Cursor < 0 || m.Cursor >= len(devices) {
		return fleet.DeviceView{}, false
	}
	return devices[m.Cursor], true
}

func (m *DashboardModel) moveCursor(delta int) {
	devices := m.devices()
	if len(devices) == 0 {
		return
	}
	m.Cursor += delta
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	if m.Cursor >= len(devices) {
		m.Cursor = len(devices) - 1
	}
	m.selectedKey = devices[m.Cursor].Key
}

// restoreSelection moves the cursor to the previously selected device after
// a refresh reordered the rows.
func (m *DashboardModel) restoreSelection() {
	devices := m.devices()
	if m.selectedKey != "" {
		for i, d := range devices {
			if d.Key == m.selectedKey {
				m.Cursor = i
				return
			}
		}
	}
	if m.Cursor >= len(devices) {
		m.Cursor = len(devices) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	if len(devices) > 0 {
		m.selectedKey = devices[m.Cursor].Key
	}
}

func (m DashboardModel) devices() []fleet.DeviceView {
	if m.Snapshot == nil {
		return nil
	}
	return m.Snapshot.Devices
}

// View renders the dashboard.
func (m DashboardModel) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if m.Snapshot != nil && m.Snapshot.HasPendingApproval {
		b.WriteString(BannerStyle.Render("Devices are waiting for approval - select one and press a to approve or d to deny"))
		b.WriteString("\n\n")
	}

	switch {
	case m.Snapshot == nil && m.FetchErr == nil:
		b.WriteString(m.Spinner.View() + " Connecting to " + m.ServerURL + "...")
	case m.Snapshot != nil:
		b.WriteString(RenderTable(m.Snapshot.Devices, m.Cursor))
		b.WriteString("\n")
		b.WriteString(RenderSummary(len(m.Snapshot.Devices), m.Snapshot.Counters))
	}

	if m.FetchErr != nil {
		b.WriteString("\n")
		b.WriteString(AlertErrorStyle.Render(FailureMarker + " " + client.GetShortErrorMessage(m.FetchErr)))
	}
	if m.Alert != "" {
		b.WriteString("\n")
		if m.AlertIsErr {
			b.WriteString(AlertErrorStyle.Render(m.Alert))
		} else {
			b.WriteString(AlertSuccessStyle.Render(m.Alert))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(m.Help.View(m.Keys))
	return b.String()
}

func (m DashboardModel) renderHeader() string {
	left := TitleStyle.Render(AppName + " " + AppVersion())
	right := m.ServerURL
	if m.Snapshot != nil {
		right = fmt.Sprintf("%s · firmware %s", m.ServerURL, m.Snapshot.Server.FirmwareVersion)
		if m.Snapshot.Firmware != nil {
			right += fmt.Sprintf(" (%s, %s)", m.Snapshot.Firmware.Name, m.Snapshot.Firmware.SizeLabel)
		}
	}
	if m.Loading {
		right += " " + m.Spinner.View()
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", SubtitleStyle.Render(right))
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, fleetAPI FleetAPI, serverURL string, interval time.Duration) error {
	p := tea.NewProgram(
		NewDashboardModel(fleetAPI, serverURL, interval),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	return err
}
