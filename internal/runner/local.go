package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/launchpad/internal/task"
)

const (
	lockFileName = ".launchpad.lock"
	logSuffix    = ".out"

	// waitDelay bounds how long Wait blocks on inherited pipes after the
	// process group was killed.
	waitDelay = 5 * time.Second
)

// LocalConfig configures a LocalBackend.
type LocalConfig struct {
	Workers int    // max tasks running at once; < 1 means 1
	Debug   bool   // serial, output inherited, no log files
	LogDir  string // per-task output files in non-debug mode
	GPUs    []int  // device IDs handed out by Task.Resources.GPUs; empty disables accounting

	IdleTimeout time.Duration // kill a task after this long without output; 0 disables

	Stdout   io.Writer // debug-mode sink for task stdout; default os.Stdout
	Stderr   io.Writer // debug-mode sink for task stderr; default os.Stderr
	OnUpdate UpdateFunc
}

// LocalBackend runs each task as a child process on this host.
type LocalBackend struct {
	cfg  LocalConfig
	gpus *gpuPool
}

// NewLocalBackend creates a local backend.
func NewLocalBackend(cfg LocalConfig) *LocalBackend {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	b := &LocalBackend{cfg: cfg}
	if len(cfg.GPUs) > 0 {
		b.gpus = newGPUPool(cfg.GPUs)
	}
	return b
}

// Name returns the backend identifier.
func (b *LocalBackend) Name() string { return "local" }

// Workers returns the effective parallelism. Debug mode is always serial.
func (b *LocalBackend) Workers() int {
	if b.cfg.Debug {
		return 1
	}
	return b.cfg.Workers
}

// Launch runs every task and returns their results in input order.
// It fails only when the log directory cannot be prepared.
func (b *LocalBackend) Launch(ctx context.Context, tasks []task.Task) ([]task.Result, error) {
	if !b.cfg.Debug {
		if err := os.MkdirAll(b.cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		lock := flock.New(filepath.Join(b.cfg.LogDir, lockFileName))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock log dir %s: %w", b.cfg.LogDir, err)
		}
		if !locked {
			return nil, fmt.Errorf("log dir %s is in use by another run", b.cfg.LogDir)
		}
		defer func() { _ = lock.Unlock() }()
	}

	stems := fileStems(tasks)
	results := make([]task.Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(b.Workers())
	for i := range tasks {
		i := i
		g.Go(func() error {
			results[i] = b.runOne(ctx, &tasks[i], stems[i])
			b.update(tasks[i].Name, results[i].State(), &results[i])
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (b *LocalBackend) update(name string, state task.State, res *task.Result) {
	if b.cfg.OnUpdate == nil {
		return
	}
	if res != nil {
		cpy := *res
		res = &cpy
	}
	b.cfg.OnUpdate(name, state, res)
}

// runOne executes a single task. Every path returns a result.
func (b *LocalBackend) runOne(ctx context.Context, t *task.Task, stem string) task.Result {
	start := time.Now()
	res := task.Result{Name: t.Name}
	fail := func(code int, format string, args ...any) task.Result {
		res.ExitCode = code
		res.Error = fmt.Sprintf(format, args...)
		res.Duration = time.Since(start)
		return res
	}

	if ctx.Err() != nil {
		return fail(task.ExitCanceled, "run canceled before start")
	}

	var extraEnv []string
	if b.gpus != nil && t.Resources.GPUs > 0 {
		if t.Resources.GPUs > len(b.cfg.GPUs) {
			return fail(task.ExitInsufficientResources, "task needs %d gpus, backend has %d", t.Resources.GPUs, len(b.cfg.GPUs))
		}
		ids, err := b.gpus.Acquire(ctx, t.Resources.GPUs)
		if err != nil {
			return fail(task.ExitCanceled, "waiting for gpus: %v", err)
		}
		defer b.gpus.Release(ids)
		extraEnv = append(extraEnv, "CUDA_VISIBLE_DEVICES="+visibleDevices(ids))
	}

	runCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.Timeout.Std())
		defer cancel()
	}

	var idle *idleWatchdog
	if b.cfg.IdleTimeout > 0 {
		var cancelIdle context.CancelFunc
		runCtx, cancelIdle = context.WithCancel(runCtx)
		defer cancelIdle()
		idle = newIdleWatchdog(b.cfg.IdleTimeout, cancelIdle)
		defer idle.Stop()
	}

	argv := t.Argv()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = t.Dir
	cmd.Env = taskEnv(t, extraEnv...)
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)

	if b.cfg.Debug {
		cmd.Stdout = b.cfg.Stdout
		cmd.Stderr = b.cfg.Stderr
		if idle != nil {
			cmd.Stdout = idle.Wrap(b.cfg.Stdout)
			cmd.Stderr = idle.Wrap(b.cfg.Stderr)
		}
	} else {
		logPath := filepath.Join(b.cfg.LogDir, stem+logSuffix)
		f, err := os.Create(logPath)
		if err != nil {
			return fail(task.ExitLaunchFailed, "create log file: %v", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
		if idle != nil {
			out := idle.Wrap(f)
			cmd.Stdout = out
			cmd.Stderr = out
		}
		res.LogPath = logPath
	}

	slog.Debug("starting task", "task", t.Name, "argv", argv, "dir", t.Dir)
	if err := cmd.Start(); err != nil {
		return fail(task.ExitLaunchFailed, "start: %v", err)
	}
	b.update(t.Name, task.StateRunning, nil)

	err := cmd.Wait()
	res.Duration = time.Since(start)
	if err == nil {
		return res
	}

	switch {
	case ctx.Err() != nil:
		return fail(task.ExitCanceled, "run canceled: %v", ctx.Err())
	case idle != nil && idle.Idled():
		return fail(task.ExitTimeout, "no output for %s", b.cfg.IdleTimeout)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fail(task.ExitTimeout, "timed out after %s", t.Timeout.Std())
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = processExitCode(ee.ProcessState)
		return res
	}
	return fail(task.ExitLaunchFailed, "wait: %v", err)
}
