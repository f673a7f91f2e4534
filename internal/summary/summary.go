// Package summary classifies task results and renders the run report message.
package summary

import (
	"log/slog"

	"github.com/ppiankov/launchpad/internal/task"
)

// Summary is the derived outcome of one run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    []string // task names, in result order
}

// AllSucceeded reports whether no task failed. An empty run counts as success.
func (s Summary) AllSucceeded() bool { return len(s.Failed) == 0 }

// Summarize classifies results by exit code. It does not modify its input.
func Summarize(results []task.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if !r.Succeeded() {
			s.Failed = append(s.Failed, r.Name)
		}
	}
	s.Succeeded = s.Total - len(s.Failed)
	return s
}

// Aggregator summarizes results and logs every failed task.
type Aggregator struct {
	Logger *slog.Logger
}

// Aggregate logs one error entry per failed task and returns the summary.
func (a Aggregator) Aggregate(results []task.Result) Summary {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, r := range results {
		if !r.Succeeded() {
			logger.Error("task failed", "task", r.Name, "code", r.ExitCode)
		}
	}
	return Summarize(results)
}
