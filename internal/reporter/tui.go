package reporter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/launchpad/internal/task"
)

const (
	refreshInterval = 500 * time.Millisecond
	barWidth        = 30
	minVisible      = 3

	// title, progress bar, counts and help; plus room for a scroll hint
	chromeLines = 4
	hintLines   = 1
)

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stateStyles = map[task.State]lipgloss.Style{
		task.StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		task.StateRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		task.StateSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		task.StatePending:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

// stateRank orders rows so that what needs attention comes first.
var stateRank = map[task.State]int{
	task.StateFailed:    0,
	task.StateRunning:   1,
	task.StateSucceeded: 2,
	task.StatePending:   3,
}

type tickMsg time.Time

// DoneMsg tells the TUI the backend returned. The model renders a final frame and quits.
type DoneMsg struct{}

// TUIModel is the Bubbletea model for the live run display.
type TUIModel struct {
	title     string
	snapshot  func() []Entry
	cancelRun func()

	entries      []Entry
	scrollOffset int
	paused       bool
	frame        int
	width        int
	height       int
	done         bool
}

// NewTUIModel creates a model that polls tracker on every tick. cancelRun is
// invoked when the user quits before the run ends.
func NewTUIModel(title string, tracker *Tracker, cancelRun func()) TUIModel {
	return TUIModel{
		title:     title,
		snapshot:  tracker.Snapshot,
		cancelRun: cancelRun,
		entries:   tracker.Snapshot(),
	}
}

// Init implements tea.Model.
func (m TUIModel) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())
	case tickMsg:
		if !m.paused {
			m.entries = m.snapshot()
			m.clampScroll()
		}
		m.frame++
		return m, tick()
	case DoneMsg:
		m.entries = m.snapshot()
		m.done = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.clampScroll()
	}
	return m, nil
}

func (m TUIModel) handleKey(key string) (tea.Model, tea.Cmd) {
	page := m.visibleTasks()
	switch key {
	case "q", "ctrl+c":
		if m.cancelRun != nil {
			m.cancelRun()
		}
		m.done = true
		return m, tea.Quit
	case "p", " ":
		m.paused = !m.paused
	case "j", "down":
		m.scrollOffset++
	case "k", "up":
		m.scrollOffset--
	case "pgdown":
		m.scrollOffset += page
	case "pgup":
		m.scrollOffset -= page
	case "g", "home":
		m.scrollOffset = 0
	case "G", "end":
		m.scrollOffset = m.maxScroll()
	}
	m.clampScroll()
	return m, nil
}

func (m *TUIModel) clampScroll() {
	m.scrollOffset = max(0, min(m.scrollOffset, m.maxScroll()))
}

func (m TUIModel) visibleTasks() int {
	return max(minVisible, m.height-chromeLines-hintLines)
}

func (m TUIModel) maxScroll() int {
	return max(0, len(m.entries)-m.visibleTasks())
}

// View implements tea.Model.
func (m TUIModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	c := Count(m.entries)
	lines := make([]string, 0, m.height)

	title := fmt.Sprintf("%s — %d tasks", m.title, len(m.entries))
	if m.paused {
		title += "  " + pausedStyle.Render("⏸ PAUSED")
	}
	lines = append(lines, titleStyle.Render(title), progressBar(c, len(m.entries)), progressLine(c))

	rows := m.rows()
	from := min(m.scrollOffset, len(rows))
	to := min(from+m.visibleTasks(), len(rows))
	if from > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("  ↑ %d more above", from)))
	}
	lines = append(lines, rows[from:to]...)
	if rest := len(rows) - to; rest > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("  ↓ %d more below", rest)))
	}

	for len(lines) < m.height-1 {
		lines = append(lines, "")
	}
	lines = append(lines, mutedStyle.Render("  ↑↓/jk: scroll  g/G: top/bottom  p: pause  q: cancel run"))
	return strings.Join(lines, "\n")
}

// rows renders one line per task: failed, running, succeeded, then pending,
// each group in input order.
func (m TUIModel) rows() []string {
	sorted := make([]Entry, len(m.entries))
	copy(sorted, m.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return stateRank[sorted[i].State] < stateRank[sorted[j].State]
	})

	spinner := string(spinnerFrames[m.frame%len(spinnerFrames)])
	nameWidth := max(20, min(40, m.width/3))
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = stateStyles[e.State].Render(formatRow(e, spinner, nameWidth))
	}
	return out
}

func formatRow(e Entry, spinner string, nameWidth int) string {
	name := truncate(e.Name, nameWidth)
	switch e.State {
	case task.StateFailed:
		code, detail := 0, ""
		if e.Result != nil {
			code, detail = e.Result.ExitCode, truncate(e.Result.Error, 60)
		}
		return fmt.Sprintf("  ✗ %-*s exit %-4d %s", nameWidth, name, code, detail)
	case task.StateRunning:
		return fmt.Sprintf("  %s %-*s %s", spinner, nameWidth, name, time.Since(e.StartedAt).Truncate(time.Second))
	case task.StateSucceeded:
		var took time.Duration
		if e.Result != nil {
			took = e.Result.Duration.Truncate(time.Second)
		}
		return fmt.Sprintf("  ✓ %-*s %s", nameWidth, name, took)
	default:
		return fmt.Sprintf("  · %-*s queued", nameWidth, name)
	}
}

// progressBar draws finished tasks as a share of the run: succeeded, then failed.
func progressBar(c Counts, total int) string {
	if total == 0 {
		return "  " + mutedStyle.Render(strings.Repeat("░", barWidth))
	}
	ok := c.Succeeded * barWidth / total
	bad := c.Failed * barWidth / total
	rest := barWidth - ok - bad
	return fmt.Sprintf("  %s%s%s %d/%d",
		stateStyles[task.StateSucceeded].Render(strings.Repeat("█", ok)),
		stateStyles[task.StateFailed].Render(strings.Repeat("█", bad)),
		mutedStyle.Render(strings.Repeat("░", rest)),
		c.Succeeded+c.Failed, total)
}

func progressLine(c Counts) string {
	parts := make([]string, 0, 4)
	for _, p := range []struct {
		n     int
		label string
		state task.State
	}{
		{c.Succeeded, "done", task.StateSucceeded},
		{c.Running, "running", task.StateRunning},
		{c.Failed, "failed", task.StateFailed},
		{c.Pending, "queued", task.StatePending},
	} {
		if p.n > 0 {
			parts = append(parts, stateStyles[p.state].Render(fmt.Sprintf("%d %s", p.n, p.label)))
		}
	}
	return "  " + strings.Join(parts, "  ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
