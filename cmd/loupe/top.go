package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	topTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	topStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
	topLiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Padding(0, 1)
)

func newTopCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of today's activity",
		RunE: func(_ *cobra.Command, _ []string) error {
			client := newAPIClient(flags.apiBase)
			model := newTopModel(client)
			_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			return err
		},
	}
}

type refreshMsg struct {
	daily dailyPayload
	err   error
}

type activityMsg struct {
	ProcessName string `json:"process_name"`
	WindowTitle string `json:"window_title"`
	TagName     string `json:"tag_name"`
}

type feedClosedMsg struct{ err error }

type tickMsg time.Time

type topModel struct {
	client  *apiClient
	spinner spinner.Model
	table   table.Model

	activities chan activityMsg
	loaded     bool
	err        error
	current    string
	feedDown   bool
}

func newTopModel(client *apiClient) *topModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Tag", Width: 24},
			{Title: "Time", Width: 10},
			{Title: "Share", Width: 8},
		}),
		table.WithHeight(12),
	)
	return &topModel{
		client:     client,
		spinner:    sp,
		table:      tbl,
		activities: make(chan activityMsg, 16),
	}
}

func (m *topModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh, m.startFeed, m.waitActivity)
}

// refresh fetches today's dashboard.
func (m *topModel) refresh() tea.Msg {
	var daily dailyPayload
	err := m.client.getJSON("/api/dashboard/daily", &daily)
	return refreshMsg{daily: daily, err: err}
}

// startFeed pumps /ws/activity transitions into the activities channel until
// the connection drops.
func (m *topModel) startFeed() tea.Msg {
	conn, _, err := websocket.DefaultDialer.Dial(m.client.wsURL("/ws/activity"), nil)
	if err != nil {
		return feedClosedMsg{err: err}
	}
	defer func() { _ = conn.Close() }()

	for {
		var envelope struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&envelope); err != nil {
			return feedClosedMsg{err: err}
		}
		if envelope.Type != "activity_update" {
			continue
		}
		var update activityMsg
		if err := json.Unmarshal(envelope.Data, &update); err != nil {
			continue
		}
		select {
		case m.activities <- update:
		default: // drop when the UI lags; only the latest matters
		}
	}
}

func (m *topModel) waitActivity() tea.Msg {
	return <-m.activities
}

func scheduleTick() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case refreshMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			rows := make([]table.Row, 0, len(msg.daily.TagStats))
			for _, st := range msg.daily.TagStats {
				if st.Seconds < 1 {
					continue
				}
				rows = append(rows, table.Row{
					st.TagName,
					formatSeconds(st.Seconds),
					fmt.Sprintf("%.1f%%", st.Percent),
				})
			}
			m.table.SetRows(rows)
		}
		return m, scheduleTick()
	case tickMsg:
		return m, m.refresh
	case activityMsg:
		m.current = fmt.Sprintf("%s - %s [%s]", msg.ProcessName, msg.WindowTitle, msg.TagName)
		return m, m.waitActivity
	case feedClosedMsg:
		m.feedDown = true
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *topModel) View() string {
	header := topTitleStyle.Render("loupe top " + time.Now().Format("2006-01-02"))
	if !m.loaded {
		return header + "\n" + topStatusStyle.Render(m.spinner.View()+" loading…") + "\n"
	}
	if m.err != nil {
		return header + "\n" + topStatusStyle.Render("daemon unreachable: "+m.err.Error()) + "\n"
	}

	view := header + "\n" + m.table.View() + "\n"
	if m.current != "" {
		view += topLiveStyle.Render("now: "+m.current) + "\n"
	}
	if m.feedDown {
		view += topStatusStyle.Render("live feed disconnected; showing polled data") + "\n"
	}
	view += topStatusStyle.Render("q to quit") + "\n"
	return view
}
