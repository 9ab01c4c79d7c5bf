// Package tui provides the interactive Bubble Tea dashboard for the local
// upload queue.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autisense/autisense/internal/cli"
	"github.com/autisense/autisense/internal/model"
	"github.com/autisense/autisense/internal/syncer"
	"github.com/autisense/autisense/internal/tui/components"
	"github.com/autisense/autisense/internal/tui/theme"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Source is the local store as seen by the dashboard.
type Source interface {
	ListPendingSyncEntries(ctx context.Context) ([]model.SyncQueueEntry, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	ResetRetry(ctx context.Context, entryID int64) error
	SessionCount(ctx context.Context) (int, error)
}

// Flusher runs a drain pass.
type Flusher interface {
	RequestFlush(ctx context.Context) (syncer.Report, error)
	MaxRetries() int
}

// QueueRow is one queue entry joined with its session.
type QueueRow struct {
	Entry   model.SyncQueueEntry
	Session *model.Session // nil for an orphaned entry
}

// QueueLoadedMsg carries a fresh read of the queue.
type QueueLoadedMsg struct {
	Rows     []QueueRow
	Sessions int
	Err      error
}

// FlushDoneMsg is sent when a flush started from the dashboard finishes.
type FlushDoneMsg struct {
	Report syncer.Report
	Err    error
}

// RequeuedMsg is sent after an exhausted entry was put back in rotation.
type RequeuedMsg struct {
	SessionID string
	Err       error
}

type tickMsg struct{}

const (
	minTerminalWidth = 60
	maxContentWidth  = 140
	refreshInterval  = 2 * time.Second
)

// App is the root Bubble Tea model.
type App struct {
	src     Source
	flusher Flusher

	rows       []QueueRow
	sessions   int
	loaded     bool
	lastErr    error
	lastReport *syncer.Report
	lastLoad   time.Time
	notice     string

	flushing bool
	spinner  spinner.Model
	table    table.Model

	width    int
	height   int
	showHelp bool
}

// NewApp creates the dashboard model.
func NewApp(src Source, flusher Flusher) App {
	t := theme.Active

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(t.Accent)

	tbl := table.New(
		table.WithColumns(queueColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		BorderBottom(true).
		Foreground(t.Accent).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(t.TextPrimary).
		Background(t.SurfaceHover).
		Bold(false)
	tbl.SetStyles(styles)

	return App{
		src:     src,
		flusher: flusher,
		spinner: sp,
		table:   tbl,
	}
}

func queueColumns(width int) []table.Column {
	fixed := 12 + 12 + 20 + 14
	idWidth := max(width-fixed-10, 12)
	return []table.Column{
		{Title: "Session", Width: idWidth},
		{Title: "Status", Width: 12},
		{Title: "Age", Width: 12},
		{Title: "Queued", Width: 20},
		{Title: "Retries", Width: 14},
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(loadQueueCmd(a.src), a.spinner.Tick, tickCmd())
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		cw := a.contentWidth()
		a.table.SetColumns(queueColumns(cw))
		a.table.SetWidth(cw)
		a.table.SetHeight(max(a.height-14, 3))
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case QueueLoadedMsg:
		a.lastLoad = time.Now()
		a.lastErr = msg.Err
		if msg.Err == nil {
			a.loaded = true
			a.rows = msg.Rows
			a.sessions = msg.Sessions
			a.table.SetRows(a.tableRows())
		}
		return a, nil

	case FlushDoneMsg:
		a.flushing = false
		if msg.Err != nil {
			a.lastErr = msg.Err
		} else {
			rep := msg.Report
			a.lastReport = &rep
			a.notice = describeReport(rep)
		}
		return a, loadQueueCmd(a.src)

	case RequeuedMsg:
		if msg.Err != nil {
			a.lastErr = msg.Err
		} else {
			a.notice = "requeued " + msg.SessionID
		}
		return a, loadQueueCmd(a.src)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		if time.Since(a.lastLoad) >= refreshInterval {
			cmds = append(cmds, loadQueueCmd(a.src))
		}
		return a, tea.Batch(cmds...)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "?":
		a.showHelp = !a.showHelp
		return a, nil
	case "esc":
		a.showHelp = false
		return a, nil
	case "r":
		return a, loadQueueCmd(a.src)
	case "f":
		if a.flushing || a.flusher == nil {
			return a, nil
		}
		a.flushing = true
		a.notice = ""
		return a, flushCmd(a.flusher)
	case "R":
		row, ok := a.selected()
		if !ok || a.flusher == nil || !row.Entry.Exhausted(a.flusher.MaxRetries()) {
			return a, nil
		}
		return a, requeueCmd(a.src, row.Entry)
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

func (a App) selected() (QueueRow, bool) {
	i := a.table.Cursor()
	if i < 0 || i >= len(a.rows) {
		return QueueRow{}, false
	}
	return a.rows[i], true
}

func (a App) maxRetries() int {
	if a.flusher == nil {
		return syncer.DefaultMaxRetries
	}
	return a.flusher.MaxRetries()
}

func (a App) exhaustedCount() int {
	n := 0
	for _, r := range a.rows {
		if r.Entry.Exhausted(a.maxRetries()) {
			n++
		}
	}
	return n
}

func (a App) tableRows() []table.Row {
	maxRetries := a.maxRetries()
	rows := make([]table.Row, 0, len(a.rows))
	for _, r := range a.rows {
		status, age := "orphaned", "-"
		if r.Session != nil {
			status = string(r.Session.Status)
			age = cli.FormatAgeMonths(r.Session.AgeMonths)
		}
		rows = append(rows, table.Row{
			r.Entry.SessionID,
			status,
			age,
			cli.FormatMillis(r.Entry.QueuedAt),
			cli.FormatRetries(r.Entry.RetryCount, maxRetries),
		})
	}
	return rows
}

func (a App) contentWidth() int {
	return min(a.width, maxContentWidth)
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return fmt.Sprintf("\n  Terminal too narrow (%d cols)\n  The dashboard needs at least %d columns.\n",
			a.width, minTerminalWidth)
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewMain() string {
	t := theme.Active
	cw := a.contentWidth()

	titleStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	mutedStyle := lipgloss.NewStyle().Foreground(t.TextMuted)
	errStyle := lipgloss.NewStyle().Foreground(t.Red)

	var b strings.Builder
	b.WriteString(titleStyle.Render(" ◈ autisense"))
	b.WriteString(mutedStyle.Render(" · upload queue"))
	b.WriteString("\n\n")

	if !a.loaded {
		b.WriteString(" ")
		b.WriteString(a.spinner.View())
		b.WriteString(mutedStyle.Render(" Reading local store..."))
		if a.lastErr != nil {
			b.WriteString("\n\n")
			b.WriteString(errStyle.Render(" " + a.lastErr.Error()))
		}
		return b.String()
	}

	exhausted := a.exhaustedCount()
	lastFlush := plainMetric("Last flush", "never", "")
	if a.lastReport != nil {
		lastFlush = plainMetric("Last flush",
			fmt.Sprintf("%d synced", a.lastReport.Synced),
			fmt.Sprintf("%d failed", a.lastReport.Failed))
	}
	b.WriteString(components.MetricCardRow([]components.Metric{
		plainMetric("Sessions", cli.FormatNumber(int64(a.sessions)), ""),
		plainMetric("Pending", cli.FormatNumber(int64(len(a.rows))), ""),
		{Label: "Exhausted", Value: cli.FormatNumber(int64(exhausted)), Note: "R to requeue", Alert: exhausted > 0},
		lastFlush,
	}, cw))
	b.WriteString("\n")

	if len(a.rows) == 0 {
		b.WriteString(mutedStyle.Render("\n  Queue is empty. Every session has been delivered.\n"))
	} else {
		b.WriteString(a.table.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case a.flushing:
		b.WriteString(" " + a.spinner.View() + mutedStyle.Render(" Flushing..."))
	case a.lastErr != nil:
		b.WriteString(errStyle.Render(" " + a.lastErr.Error()))
	case a.notice != "":
		b.WriteString(mutedStyle.Render(" " + a.notice))
	}
	b.WriteString("\n")

	status := ""
	if !a.lastLoad.IsZero() {
		status = "updated " + a.lastLoad.Format("15:04:05")
	}
	b.WriteString(components.RenderStatusBar(cw, "[f]lush  [R]equeue  [r]efresh  [?]help  [q]uit", status))
	return b.String()
}

func (a App) viewHelp() string {
	t := theme.Active
	keyStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(t.TextMuted)

	keys := []struct{ key, desc string }{
		{"f", "run one flush pass now"},
		{"R", "requeue the selected exhausted entry"},
		{"r", "re-read the queue"},
		{"j/k ↑/↓", "move selection"},
		{"?", "toggle this help"},
		{"q", "quit"},
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, k := range keys {
		b.WriteString("  ")
		b.WriteString(keyStyle.Render(fmt.Sprintf("%-10s", k.key)))
		b.WriteString(descStyle.Render(k.desc))
		b.WriteString("\n")
	}

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderBright).
		Padding(0, 2).
		Render(b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

// plainMetric is a metric card without alert styling.
func plainMetric(label, value, note string) components.Metric {
	return components.Metric{Label: label, Value: value, Note: note}
}

func describeReport(rep syncer.Report) string {
	if rep.Skipped() {
		return "flush skipped: " + rep.Reason
	}
	return fmt.Sprintf("flush: %d synced, %d failed, %d exhausted, %d deferred in %s",
		rep.Synced, rep.Failed, rep.Exhausted, rep.Deferred, rep.Duration.Round(time.Millisecond))
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func loadQueueCmd(src Source) tea.Cmd {
	return func() tea.Msg {
		return LoadQueue(context.Background(), src)
	}
}

// LoadQueue reads the queue and joins each entry with its session.
func LoadQueue(ctx context.Context, src Source) QueueLoadedMsg {
	entries, err := src.ListPendingSyncEntries(ctx)
	if err != nil {
		return QueueLoadedMsg{Err: err}
	}
	rows := make([]QueueRow, 0, len(entries))
	for _, e := range entries {
		row := QueueRow{Entry: e}
		if s, err := src.GetSession(ctx, e.SessionID); err == nil {
			row.Session = &s
		}
		rows = append(rows, row)
	}
	count, err := src.SessionCount(ctx)
	if err != nil {
		return QueueLoadedMsg{Err: err}
	}
	return QueueLoadedMsg{Rows: rows, Sessions: count}
}

func flushCmd(f Flusher) tea.Cmd {
	return func() tea.Msg {
		rep, err := f.RequestFlush(context.Background())
		return FlushDoneMsg{Report: rep, Err: err}
	}
}

func requeueCmd(src Source, e model.SyncQueueEntry) tea.Cmd {
	return func() tea.Msg {
		return RequeuedMsg{SessionID: e.SessionID, Err: src.ResetRetry(context.Background(), e.ID)}
	}
}
