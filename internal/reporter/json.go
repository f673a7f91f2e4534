package reporter

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/ppiankov/launchpad/internal/summary"
	"github.com/ppiankov/launchpad/internal/task"
)

// RunReport is the machine-readable record of one run.
type RunReport struct {
	RunID     string        `json:"run_id"`
	RunType   string        `json:"run_type"`
	User      string        `json:"user"`
	Backend   string        `json:"backend"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    []string      `json:"failed"`
	Results   []task.Result `json:"results"`
}

// NewRunReport builds a report with a fresh run ID.
func NewRunReport(runType, user, backend string, startedAt time.Time, results []task.Result) *RunReport {
	s := summary.Summarize(results)
	failed := s.Failed
	if failed == nil {
		failed = []string{}
	}
	return &RunReport{
		RunID:     uuid.NewString(),
		RunType:   runType,
		User:      user,
		Backend:   backend,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    failed,
		Results:   results,
	}
}

// WriteJSONReport writes the run report as JSON to the given path.
func WriteJSONReport(report *RunReport, path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}
