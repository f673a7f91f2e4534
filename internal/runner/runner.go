package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/launchpad/internal/notify"
	"github.com/ppiankov/launchpad/internal/summary"
	"github.com/ppiankov/launchpad/internal/task"
)

// Backend launches tasks and blocks until each has a terminal result.
// Implementations: LocalBackend, SpoolBackend.
//
// Launch must return exactly one result per input task. A task that cannot be
// started still gets a result with a nonzero exit code. An error means no
// result list could be produced at all.
type Backend interface {
	Name() string
	Launch(ctx context.Context, tasks []task.Task) ([]task.Result, error)
}

// UpdateFunc observes task state changes inside a backend. res is nil for
// StateRunning. It is called from worker goroutines.
type UpdateFunc func(name string, state task.State, res *task.Result)

// DefaultNotifyTimeout bounds the notification step of a run.
const DefaultNotifyTimeout = 30 * time.Second

// ErrResultMismatch is returned when a backend breaks the one-result-per-task contract.
var ErrResultMismatch = errors.New("backend results do not match submitted tasks")

// Config is the immutable configuration of one run.
type Config struct {
	RunType string // shown in the report message
	Debug   bool   // backends run serially with live output
	User    string // invoking user, resolved by the caller
}

// Runner drives one run: launch on the backend, aggregate, notify.
type Runner struct {
	cfg      Config
	backend  Backend
	notifier notify.Notifier
	messages summary.Messages
	logger   *slog.Logger

	beforeReport  func()
	notifyTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithNotifier enables the end-of-run report. A nil notifier disables it.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithMessages replaces the report wording.
func WithMessages(m summary.Messages) Option {
	return func(r *Runner) { r.messages = m }
}

// WithLogger sets the logger used for failure and notification entries.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithBeforeReport registers fn to run once the backend has returned a valid
// result list, before failures are logged and the report is sent. Live
// displays use it to release the terminal.
func WithBeforeReport(fn func()) Option {
	return func(r *Runner) { r.beforeReport = fn }
}

// WithNotifyTimeout bounds notification delivery. Values <= 0 keep DefaultNotifyTimeout.
func WithNotifyTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.notifyTimeout = d
		}
	}
}

// New creates a Runner bound to backend.
func New(cfg Config, backend Backend, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		backend:       backend,
		logger:        slog.Default(),
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.messages == nil {
		r.messages = summary.MustMessages(summary.DefaultLocale)
	}
	return r
}

// Run launches tasks and reports the outcome. Task failures are logged and
// reported, never returned: the error is non-nil only when the backend could
// not produce a result list.
func (r *Runner) Run(ctx context.Context, tasks []task.Task) error {
	r.logger.Debug("launching tasks", "backend", r.backend.Name(), "tasks", len(tasks), "debug", r.cfg.Debug)

	results, err := r.backend.Launch(ctx, tasks)
	if err != nil {
		return fmt.Errorf("launch on %s backend: %w", r.backend.Name(), err)
	}
	if err := CheckResults(tasks, results); err != nil {
		return fmt.Errorf("%s backend: %w", r.backend.Name(), err)
	}

	if r.beforeReport != nil {
		r.beforeReport()
	}
	r.summarize(ctx, results)
	return nil
}

func (r *Runner) summarize(ctx context.Context, results []task.Result) {
	s := summary.Aggregator{Logger: r.logger}.Aggregate(results)
	r.logger.Info("run finished", "run_type", r.cfg.RunType, "total", s.Total, "succeeded", s.Succeeded, "failed", len(s.Failed))

	if r.notifier == nil {
		return
	}
	msg := summary.Message(r.messages, r.cfg.User, r.cfg.RunType, s)
	// an interrupted run still reports what finished, within notifyTimeout
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(nctx, msg); err != nil {
		r.logger.Warn("notification failed", "error", err)
	}
}

// CheckResults verifies that results holds exactly one entry per task name.
func CheckResults(tasks []task.Task, results []task.Result) error {
	if len(results) != len(tasks) {
		return fmt.Errorf("%w: %d tasks, %d results", ErrResultMismatch, len(tasks), len(results))
	}
	want := make(map[string]int, len(tasks))
	for _, t := range tasks {
		want[t.Name]++
	}
	for _, res := range results {
		if want[res.Name] == 0 {
			return fmt.Errorf("%w: unexpected or duplicate result for %q", ErrResultMismatch, res.Name)
		}
		want[res.Name]--
	}
	return nil
}
