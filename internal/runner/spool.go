package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ppiankov/launchpad/internal/task"
)

const (
	scriptSuffix = ".sh"
	exitSuffix   = ".exit"

	defaultPollInterval = 2 * time.Second
)

// DefaultSubmit backgrounds the job script with sh, standing in for a real
// scheduler submit command such as sbatch.
var DefaultSubmit = []string{"sh", "-c", `sh "$1" >/dev/null 2>&1 &`, "launchpad-submit"}

// SpoolConfig configures a SpoolBackend.
type SpoolConfig struct {
	Dir          string        // shared directory visible to the scheduler's nodes
	Submit       []string      // submit command; the job script path is appended
	Probe        []string      // optional scheduler health check run before submitting
	PollInterval time.Duration // directory rescan interval
	Timeout      time.Duration // max wait for all jobs; 0 waits forever
	PollOnly     bool          // skip fsnotify and rely on rescans
	OnUpdate     UpdateFunc
}

// SpoolBackend delegates tasks to an external scheduler. Each task becomes a
// job script in a per-run spool directory; the script records the task's exit
// code in <job>.exit, which the backend picks up via fsnotify or polling.
type SpoolBackend struct {
	cfg SpoolConfig
}

// NewSpoolBackend creates a spool backend.
func NewSpoolBackend(cfg SpoolConfig) *SpoolBackend {
	if cfg.Dir == "" {
		cfg.Dir = "spool"
	}
	if len(cfg.Submit) == 0 {
		cfg.Submit = DefaultSubmit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &SpoolBackend{cfg: cfg}
}

// Name returns the backend identifier.
func (b *SpoolBackend) Name() string { return "spool" }

// spoolJob tracks one submitted task.
type spoolJob struct {
	stem      string
	submitted time.Time
	done      bool
}

// Launch submits every task and waits for their exit files.
// It fails only when the spool directory or the scheduler probe fails.
func (b *SpoolBackend) Launch(ctx context.Context, tasks []task.Task) ([]task.Result, error) {
	base, err := filepath.Abs(b.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve spool dir: %w", err)
	}
	if err := b.probe(ctx); err != nil {
		return nil, err
	}
	runDir := filepath.Join(base, uuid.NewString())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	var watcher *fsnotify.Watcher
	if !b.cfg.PollOnly {
		watcher, err = fsnotify.NewWatcher()
		if err == nil {
			err = watcher.Add(runDir)
		}
		if err != nil {
			slog.Warn("fsnotify unavailable, polling spool dir", "dir", runDir, "error", err)
			if watcher != nil {
				_ = watcher.Close()
			}
			watcher = nil
		}
	}
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	results := make([]task.Result, len(tasks))
	jobs := make([]spoolJob, len(tasks))
	pending := 0
	for i, stem := range fileStems(tasks) {
		t := &tasks[i]
		jobs[i] = spoolJob{stem: stem, submitted: time.Now()}
		results[i] = task.Result{Name: t.Name, LogPath: filepath.Join(runDir, stem+logSuffix)}

		if ctx.Err() != nil {
			results[i].ExitCode = task.ExitCanceled
			results[i].Error = "run canceled before submit"
			jobs[i].done = true
			b.update(t.Name, &results[i])
			continue
		}
		if err := b.submit(ctx, runDir, stem, t); err != nil {
			results[i].ExitCode = task.ExitLaunchFailed
			results[i].Error = err.Error()
			if ctx.Err() != nil {
				results[i].ExitCode = task.ExitCanceled
				results[i].Error = fmt.Sprintf("run canceled: %v", ctx.Err())
			}
			jobs[i].done = true
			b.update(t.Name, &results[i])
			continue
		}
		pending++
		if b.cfg.OnUpdate != nil {
			b.cfg.OnUpdate(t.Name, task.StateRunning, nil)
		}
	}

	slog.Debug("jobs submitted", "dir", runDir, "submitted", pending, "total", len(tasks))
	b.wait(ctx, runDir, watcher, jobs, results, pending)
	return results, nil
}

func (b *SpoolBackend) probe(ctx context.Context) error {
	if len(b.cfg.Probe) == 0 {
		return nil
	}
	out, err := exec.CommandContext(ctx, b.cfg.Probe[0], b.cfg.Probe[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("probe scheduler: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// submit writes the job script and hands it to the scheduler.
func (b *SpoolBackend) submit(ctx context.Context, runDir, stem string, t *task.Task) error {
	script := filepath.Join(runDir, stem+scriptSuffix)
	if err := os.WriteFile(script, []byte(jobScript(runDir, stem, t)), 0o755); err != nil {
		return fmt.Errorf("write job script: %w", err)
	}

	args := append(append([]string(nil), b.cfg.Submit[1:]...), script)
	cmd := exec.CommandContext(ctx, b.cfg.Submit[0], args...)
	cmd.Env = taskEnv(&task.Task{}, "LAUNCHPAD_TASK="+t.Name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("submit: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// wait collects exit files until every job is done, the timeout fires or ctx ends.
func (b *SpoolBackend) wait(ctx context.Context, runDir string, watcher *fsnotify.Watcher, jobs []spoolJob, results []task.Result, pending int) {
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if b.cfg.Timeout > 0 {
		timer := time.NewTimer(b.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	collect := func() {
		for i := range jobs {
			if jobs[i].done {
				continue
			}
			code, ok, err := readExitFile(filepath.Join(runDir, jobs[i].stem+exitSuffix))
			if !ok {
				continue
			}
			results[i].ExitCode = code
			if err != nil {
				results[i].Error = err.Error()
			}
			results[i].Duration = time.Since(jobs[i].submitted)
			jobs[i].done = true
			pending--
			b.update(results[i].Name, &results[i])
		}
	}
	abandon := func(code int, reason string) {
		for i := range jobs {
			if jobs[i].done {
				continue
			}
			results[i].ExitCode = code
			results[i].Error = reason
			results[i].Duration = time.Since(jobs[i].submitted)
			jobs[i].done = true
			b.update(results[i].Name, &results[i])
		}
		pending = 0
	}

	collect()
	for pending > 0 {
		select {
		case <-ctx.Done():
			abandon(task.ExitCanceled, fmt.Sprintf("run canceled: %v", ctx.Err()))
		case <-timeout:
			abandon(task.ExitTimeout, fmt.Sprintf("no exit status after %s", b.cfg.Timeout))
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if strings.HasSuffix(ev.Name, exitSuffix) {
				collect()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			slog.Warn("spool watcher error", "error", err)
		case <-ticker.C:
			collect()
		}
	}
}

func (b *SpoolBackend) update(name string, res *task.Result) {
	if b.cfg.OnUpdate == nil {
		return
	}
	cpy := *res
	b.cfg.OnUpdate(name, res.State(), &cpy)
}

// readExitFile reports whether path exists and the exit code it holds.
// A present but malformed file counts as a launch failure.
func readExitFile(path string) (int, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return task.ExitLaunchFailed, true, fmt.Errorf("malformed exit file %s: %q", filepath.Base(path), data)
	}
	return code, true, nil
}

// jobScript renders the sh script a scheduler node runs for t. The exit code
// is written to a temp file and renamed so readers never see a partial write.
func jobScript(runDir, stem string, t *task.Task) string {
	out := filepath.Join(runDir, stem+logSuffix)
	exit := filepath.Join(runDir, stem+exitSuffix)

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "# launchpad job: %s\n", strings.ReplaceAll(t.Name, "\n", " "))
	fmt.Fprintf(&b, "finish() { echo \"$1\" > %s && mv %s %s; exit 0; }\n",
		shellQuote(exit+".tmp"), shellQuote(exit+".tmp"), shellQuote(exit))
	if t.Dir != "" {
		fmt.Fprintf(&b, "cd %s 2>/dev/null || finish %d\n", shellQuote(t.Dir), task.ExitLaunchFailed)
	}
	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		// never interpolate a key the shell would parse as code
		if task.ValidEnvKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(t.Env[k]))
	}

	argv := t.Argv()
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	fmt.Fprintf(&b, "%s > %s 2>&1 < /dev/null\n", strings.Join(quoted, " "), shellQuote(out))
	b.WriteString("finish $?\n")
	return b.String()
}

// shellQuote wraps s in single quotes for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
