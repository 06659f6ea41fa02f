// Package tui provides the interactive terminal dashboard for worktrace.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/worktrace/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	categoryStyles = map[models.Category]lipgloss.Style{
		models.CategoryApplicationOpen:   lipgloss.NewStyle().Foreground(secondaryColor),
		models.CategoryApplicationActive: lipgloss.NewStyle().Foreground(cyanColor),
		models.CategoryUserActive:        lipgloss.NewStyle().Foreground(successColor),
		models.CategoryPerspective:       lipgloss.NewStyle().Foreground(warningColor),
		models.CategoryEditor:            lipgloss.NewStyle().Foreground(primaryColor).Bold(true),
	}
)

// RefreshInterval is how often the dashboard polls the daemon.
const RefreshInterval = 2 * time.Second

// recentLimit is how many closed intervals the recent view shows.
const recentLimit = 100

const (
	viewLive   = "live"
	viewRecent = "recent"
	viewStats  = "stats"
)

var views = []string{viewLive, viewRecent, viewStats}

// App is the main TUI application model.
type App struct {
	client      *Client
	input       textinput.Model
	spinner     spinner.Model
	recent      table.Model
	suggestions *Suggestions
	now         func() time.Time

	width   int
	height  int
	view    string
	loading bool
	online  bool
	message string
	data    snapshot
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type / for commands or @ for events"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	tbl := table.New(
		table.WithColumns(recentColumns(80)),
		table.WithHeight(10),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(fgColor).
		Background(primaryColor).
		Bold(false)
	tbl.SetStyles(styles)

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		spinner:     sp,
		recent:      tbl,
		suggestions: NewSuggestions(),
		now:         time.Now,
		view:        viewLive,
		loading:     true,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.spinner.Tick,
		a.refresh(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			a.input.SetValue("")
			a.suggestions.Update("")
			a.message = ""
			return a, nil

		case "tab", "shift+tab":
			if a.suggestions.IsVisible() {
				a.input.SetValue(a.suggestions.Completion())
				a.input.CursorEnd()
				a.suggestions.Update(a.input.Value())
				return a, nil
			}
			a.cycleView(msg.String() == "shift+tab")
			return a, nil

		case "up", "down":
			if a.suggestions.IsVisible() {
				if msg.String() == "up" {
					a.suggestions.Prev()
				} else {
					a.suggestions.Next()
				}
				return a, nil
			}
			if a.view == viewRecent {
				var cmd tea.Cmd
				a.recent, cmd = a.recent.Update(msg)
				return a, cmd
			}

		case "ctrl+r":
			a.loading = true
			return a, a.refresh()

		case "enter":
			if a.suggestions.IsVisible() {
				a.input.SetValue(a.suggestions.Completion())
				a.input.CursorEnd()
				a.suggestions.Update(a.input.Value())
				return a, nil
			}
			line := strings.TrimSpace(a.input.Value())
			if line == "" {
				return a, nil
			}
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, execute(a.client, line)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.recent.SetColumns(recentColumns(msg.Width))
		a.recent.SetHeight(max(a.contentHeight()-1, 3))

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case snapshotMsg:
		a.loading = false
		a.online = true
		a.data = msg.snapshot
		a.recent.SetRows(recentRows(a.data.recent))
		// Schedule the next tick only after the current fetch is complete.
		return a, a.tickCmd()

	case daemonStatusMsg:
		a.loading = false
		a.online = msg.online
		if msg.err != nil {
			a.message = "Error: " + msg.err.Error()
		}
		return a, a.tickCmd()

	case tickMsg:
		return a, a.refresh()

	case commandResultMsg:
		if msg.err != nil {
			a.message = "Error: " + msg.err.Error()
		} else {
			a.message = msg.message
		}
		return a, a.refresh()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	// Update suggestions based on input
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

func (a *App) cycleView(backwards bool) {
	for i, v := range views {
		if v != a.view {
			continue
		}
		step := 1
		if backwards {
			step = len(views) - 1
		}
		a.view = views[(i+step)%len(views)]
		return
	}
	a.view = viewLive
}

func (a *App) contentHeight() int {
	return max(a.height-9, 5)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	// Header with daemon status
	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.online {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("worktrace") + "  " + daemonStatus
	if h := a.data.health; h != nil && a.online {
		header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(
			fmt.Sprintf("v%s  session %s", h.Version, shortID(h.SessionSeed)))
	}
	if a.loading {
		header += "  " + a.spinner.View()
	}
	b.WriteString(header + "\n")
	b.WriteString(a.renderTabs() + "\n")

	height := a.contentHeight()
	switch a.view {
	case viewLive:
		b.WriteString(a.renderLive(height))
	case viewRecent:
		b.WriteString(a.renderRecent())
	case viewStats:
		b.WriteString(a.renderStats(height))
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	// Input box
	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	// Suggestions dropdown (if visible) - renders BELOW input
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	status := fmt.Sprintf(" Open: %d | Tab:view | ↑↓:nav | Ctrl+R:refresh | Esc:clear | Ctrl+C:quit", len(a.data.open))
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderTabs() string {
	var tabs []string
	for _, v := range views {
		label := " " + strings.ToUpper(v) + " "
		if v == a.view {
			tabs = append(tabs, lipgloss.NewStyle().Background(primaryColor).Foreground(fgColor).Bold(true).Render(label))
		} else {
			tabs = append(tabs, lipgloss.NewStyle().Foreground(mutedColor).Render(label))
		}
	}
	return strings.Join(tabs, " ")
}

func (a *App) renderLive(height int) string {
	if !a.online {
		return "\n  Daemon not reachable. Start it with: worktrace daemon\n"
	}
	if len(a.data.open) == 0 {
		return "\n  No open intervals. Waiting for IDE events...\n"
	}

	now := a.now()
	var lines []string
	for _, iv := range a.data.open {
		style, ok := categoryStyles[iv.Category()]
		if !ok {
			style = lipgloss.NewStyle()
		}
		line := fmt.Sprintf("  %s  %-10s %s",
			style.Render(fmt.Sprintf("%-20s", iv.Type)),
			iv.DurationString(now),
			subject(iv))
		lines = append(lines, line)
	}

	if h := a.data.health; h != nil {
		lines = append(lines, "")
		lines = append(lines, helpStyle.Render(fmt.Sprintf(
			"  events %d  stale %d  user timer %s  editor timer %s  written %d  dropped %d",
			h.Tracker.Processed, h.Tracker.Stale,
			timerState(h.Tracker.UserPending), timerState(h.Tracker.EditorPending),
			h.Writer.Written, h.Writer.Dropped)))
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return "\n" + strings.Join(lines, "\n") + "\n"
}

func (a *App) renderRecent() string {
	if len(a.data.recent) == 0 {
		return "\n  No closed intervals in the transfer store.\n"
	}
	return a.recent.View() + "\n"
}

func (a *App) renderStats(height int) string {
	s := a.data.stats
	if s == nil || len(s.Types) == 0 {
		return "\n  No statistics yet.\n"
	}

	var lines []string
	lines = append(lines, helpStyle.Render(fmt.Sprintf("  %s to %s",
		s.From.Local().Format("15:04:05"), s.To.Local().Format("15:04:05"))))
	for _, row := range s.Types {
		lines = append(lines, fmt.Sprintf("  %-20s %4d  %s", row.Name, row.Count, row.Human))
	}
	if len(s.Perspectives) > 0 {
		lines = append(lines, "")
		for _, row := range s.Perspectives {
			lines = append(lines, fmt.Sprintf("  perspective %-8s %4d  %s", row.Name, row.Count, row.Human))
		}
	}
	if s.Tests.Runs > 0 {
		lines = append(lines, "", fmt.Sprintf("  tests: %d runs  %d passed  %d failed  %d errors  %d skipped",
			s.Tests.Runs, s.Tests.Passed, s.Tests.Failed, s.Tests.Errors, s.Tests.Skipped))
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	return "\n" + strings.Join(lines, "\n") + "\n"
}

// refresh fetches a full snapshot. Health decides whether the daemon is
// reachable at all.
func (a *App) refresh() tea.Cmd {
	client := a.client
	return func() tea.Msg {
		health, err := client.Health()
		if health == nil {
			return daemonStatusMsg{online: false, err: err}
		}

		snap := snapshot{health: health}
		if snap.open, err = client.OpenIntervals(); err != nil {
			return daemonStatusMsg{online: true, err: err}
		}
		if snap.recent, err = client.RecentIntervals(recentLimit); err != nil {
			return daemonStatusMsg{online: true, err: err}
		}
		if snap.stats, err = client.Stats(); err != nil {
			return daemonStatusMsg{online: true, err: err}
		}
		return snapshotMsg{snapshot: snap}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func recentColumns(width int) []table.Column {
	subjectWidth := max(width-8-20-19-12-10, 12)
	return []table.Column{
		{Title: "ID", Width: 8},
		{Title: "TYPE", Width: 20},
		{Title: "START", Width: 19},
		{Title: "DURATION", Width: 12},
		{Title: "SUBJECT", Width: subjectWidth},
	}
}

// recentRows renders the newest intervals first.
func recentRows(intervals []models.Interval) []table.Row {
	rows := make([]table.Row, 0, len(intervals))
	for i := len(intervals) - 1; i >= 0; i-- {
		iv := intervals[i]
		rows = append(rows, table.Row{
			shortID(iv.ID),
			string(iv.Type),
			iv.Start.Local().Format("2006-01-02 15:04:05"),
			iv.DurationString(iv.End),
			subject(iv),
		})
	}
	return rows
}

// subject is the detail that distinguishes intervals of the same type.
func subject(iv models.Interval) string {
	switch {
	case iv.Editor != "":
		return iv.Editor
	case iv.Perspective != "":
		return string(iv.Perspective)
	case iv.TestRun != nil:
		return fmt.Sprintf("%s (%d passed, %d failed)", iv.TestRun.Name, iv.TestRun.Passed, iv.TestRun.Failed)
	}
	return ""
}

func timerState(pending bool) string {
	if pending {
		return "armed"
	}
	return "idle"
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
