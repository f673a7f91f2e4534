package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ppiankov/launchpad/internal/task"
)

// TextReporter writes human-readable output to a writer.
type TextReporter struct {
	w      io.Writer
	green  *color.Color
	red    *color.Color
	cyan   *color.Color
	dim    *color.Color
	header *color.Color
}

// NewTextReporter creates a text reporter.
// If w is nil, defaults to os.Stdout.
// useColor enables ANSI codes regardless of what w is.
func NewTextReporter(w io.Writer, useColor bool) *TextReporter {
	if w == nil {
		w = os.Stdout
	}
	r := &TextReporter{
		w:      w,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		cyan:   color.New(color.FgCyan),
		dim:    color.New(color.Faint),
		header: color.New(color.Bold),
	}
	for _, c := range []*color.Color{r.green, r.red, r.cyan, r.dim, r.header} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// PrintHeader writes the initial banner. workers is omitted when 0.
func (r *TextReporter) PrintHeader(totalTasks, workers int, backend string) {
	if workers > 0 {
		r.header.Fprintf(r.w, "launchpad — %d tasks, %d workers, %s backend\n\n", totalTasks, workers, backend)
		return
	}
	r.header.Fprintf(r.w, "launchpad — %d tasks, %s backend\n\n", totalTasks, backend)
}

// PrintDryRun writes the launch plan without running anything.
func (r *TextReporter) PrintDryRun(tasks []task.Task) {
	fmt.Fprint(r.w, "Launch plan (dry-run):\n\n")
	for i := range tasks {
		t := &tasks[i]
		fmt.Fprintf(r.w, "  %d. %s\n", i+1, t.Name)
		fmt.Fprintf(r.w, "     argv: %s\n", truncate(strings.ReplaceAll(strings.Join(t.Argv(), " "), "\n", " "), 100))
		if t.Dir != "" {
			fmt.Fprintf(r.w, "     dir: %s\n", t.Dir)
		}
		if t.Resources.GPUs > 0 {
			fmt.Fprintf(r.w, "     gpus: %d\n", t.Resources.GPUs)
		}
		if t.Timeout > 0 {
			fmt.Fprintf(r.w, "     timeout: %s\n", t.Timeout.Std())
		}
		fmt.Fprintln(r.w)
	}
}

// PrintUpdate writes one line per state change.
func (r *TextReporter) PrintUpdate(e Entry) {
	switch e.State {
	case task.StateRunning:
		r.cyan.Fprintf(r.w, "  ▸ %-10s %s\n", "started", e.Name)
	case task.StateSucceeded:
		r.green.Fprintf(r.w, "  ✓ %-10s %s%s\n", "done", e.Name, durationSuffix(e.Result))
	case task.StateFailed:
		code := 0
		if e.Result != nil {
			code = e.Result.ExitCode
		}
		r.red.Fprintf(r.w, "  ✗ %-10s %s (exit %d)%s\n", "FAILED", e.Name, code, durationSuffix(e.Result))
	}
}

// PrintStatus writes the final state of every task, grouped.
func (r *TextReporter) PrintStatus(entries []Entry) {
	var done, failed, unfinished []Entry
	for _, e := range entries {
		switch e.State {
		case task.StateSucceeded:
			done = append(done, e)
		case task.StateFailed:
			failed = append(failed, e)
		default:
			unfinished = append(unfinished, e)
		}
	}
	total := len(entries)

	r.printSection("COMPLETED", r.green, done, total, func(e Entry) string {
		return fmt.Sprintf("    %-30s %s  ✓", e.Name, resultDuration(e.Result))
	})
	r.printSection("FAILED", r.red, failed, total, func(e Entry) string {
		if e.Result == nil {
			return fmt.Sprintf("    %-30s ✗", e.Name)
		}
		line := fmt.Sprintf("    %-30s %s  ✗ exit %d", e.Name, resultDuration(e.Result), e.Result.ExitCode)
		if e.Result.Error != "" {
			line += "  " + e.Result.Error
		}
		if e.Result.LogPath != "" {
			line += "  (" + e.Result.LogPath + ")"
		}
		return line
	})
	if len(unfinished) > 0 {
		r.printSection("NO RESULT", r.dim, unfinished, total, func(e Entry) string {
			return "    " + e.Name
		})
	}
}

// PrintSummary writes the final summary line.
func (r *TextReporter) PrintSummary(report *RunReport) {
	r.cyan.Fprintf(r.w, "\n--- Summary ---\n")
	fmt.Fprintf(r.w, "Total: %d  ", report.Total)
	r.green.Fprintf(r.w, "Succeeded: %d", report.Succeeded)
	fmt.Fprint(r.w, "  ")
	r.red.Fprintf(r.w, "Failed: %d", len(report.Failed))
	fmt.Fprintf(r.w, "  Duration: %s\n", report.Duration.Truncate(time.Second))
}

func (r *TextReporter) printSection(label string, c *color.Color, items []Entry, total int, formatter func(Entry) string) {
	c.Fprintf(r.w, "  %s  [%d/%d]\n", label, len(items), total)
	for _, e := range items {
		fmt.Fprintln(r.w, formatter(e))
	}
	fmt.Fprintln(r.w)
}

func resultDuration(res *task.Result) time.Duration {
	if res == nil {
		return 0
	}
	return res.Duration.Truncate(time.Second)
}

func durationSuffix(res *task.Result) string {
	if res == nil {
		return ""
	}
	return "  " + res.Duration.Truncate(time.Millisecond).String()
}
