package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ppiankov/launchpad/internal/config"
	"github.com/ppiankov/launchpad/internal/notify"
	"github.com/ppiankov/launchpad/internal/reporter"
	"github.com/ppiankov/launchpad/internal/runner"
	"github.com/ppiankov/launchpad/internal/summary"
)

const (
	defaultTasksFile = "tasks.json"
	defaultRunType   = "default"
)

type runOptions struct {
	tasksFile  string
	workers    int
	debug      bool
	backend    string
	notify     string
	runType    string // explicit --run-type only; see resolveRunType
	logDir     string
	locale     string
	tuiMode    string
	dryRun     bool
	reportPath string
	gpus       []int
	idle       time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch tasks on a backend, log failures and send the run report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.applySettings(cmd.Flags().Changed, cfg)
			if logFile == "" && cfg.LogFile != "" {
				setupLogging(cmd.ErrOrStderr(), cfg.LogFile)
			}
			return runTasks(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.tasksFile, "tasks", defaultTasksFile, "path to task file, JSON or YAML (supports glob patterns)")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "max tasks running at once on the local backend")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "run tasks one at a time with output on the terminal")
	cmd.Flags().StringVar(&opts.backend, "backend", "local", "launch backend: local or spool")
	cmd.Flags().StringVar(&opts.notify, "notify", "", "report target: console or a Lark bot webhook URL")
	cmd.Flags().StringVar(&opts.runType, "run-type", "", "run type shown in the report (default: task file run_type)")
	cmd.Flags().StringVar(&opts.logDir, "log-dir", "logs", "directory for per-task output files")
	cmd.Flags().StringVar(&opts.locale, "locale", summary.DefaultLocale, "report language: zh or en")
	cmd.Flags().StringVar(&opts.tuiMode, "tui", "auto", "display mode: full (interactive TUI), minimal (line per update), off (no live display), auto (detect TTY)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show the launch plan without running")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write a JSON run report to this path")
	cmd.Flags().DurationVar(&opts.idle, "idle-timeout", 0, "kill a local task after no output for this duration (0 disables)")
	cmd.Flags().IntSliceVar(&opts.gpus, "gpus", nil, "GPU device IDs the local backend hands out (e.g. 0,1,2,3)")

	return cmd
}

// applySettings fills every option whose flag was not set explicitly.
func (o *runOptions) applySettings(changed func(string) bool, cfg *config.Settings) {
	if !changed("workers") && cfg.Workers > 0 {
		o.workers = cfg.Workers
	}
	if !changed("debug") && cfg.Debug {
		o.debug = true
	}
	if !changed("backend") && cfg.Backend != "" {
		o.backend = cfg.Backend
	}
	if !changed("notify") && cfg.Notify != "" {
		o.notify = cfg.Notify
	}
	if !changed("log-dir") && cfg.LogDir != "" {
		o.logDir = cfg.LogDir
	}
	if !changed("locale") && cfg.Locale != "" {
		o.locale = cfg.Locale
	}
	if !changed("gpus") && len(cfg.GPUs) > 0 {
		o.gpus = cfg.GPUs
	}
	if !changed("idle-timeout") && cfg.IdleTimeout > 0 {
		o.idle = cfg.IdleTimeout
	}
}

// resolveRunType picks the first of: --run-type, the task files, the config file, "default".
func resolveRunType(flag, taskFile, settings string) string {
	for _, v := range []string{flag, taskFile, settings} {
		if v != "" {
			return v
		}
	}
	return defaultRunType
}

func runTasks(ctx context.Context, out, errOut io.Writer, opts runOptions, cfg *config.Settings) error {
	paths, err := config.ResolveGlob(opts.tasksFile)
	if err != nil {
		return fmt.Errorf("resolve tasks: %w", err)
	}
	tf, err := config.LoadTasks(paths)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if len(paths) > 1 {
		slog.Info("loaded multiple task files", "files", len(paths), "total_tasks", len(tf.Tasks))
	}

	messages, err := summary.NewMessages(opts.locale)
	if err != nil {
		return err
	}
	notifier, err := notify.New(opts.notify)
	if err != nil {
		return err
	}

	tty := isTTY(out)
	textRep := reporter.NewTextReporter(out, tty)
	if opts.dryRun {
		textRep.PrintDryRun(tf.Tasks)
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := reporter.NewTracker(tf.Tasks)
	backend, workers, err := buildBackend(opts, cfg, tracker.Update, out, errOut)
	if err != nil {
		return err
	}

	runType := resolveRunType(opts.runType, tf.RunType, cfg.RunType)
	user := runner.CurrentUser()
	textRep.PrintHeader(len(tf.Tasks), workers, backend.Name())

	// the TUI leaves the alternate screen before failures are logged and reported
	stopTUI := func() {}
	switch resolveDisplayMode(opts.tuiMode, opts.debug, tty) {
	case "full":
		model := reporter.NewTUIModel("launchpad "+runType, tracker, cancel)
		tuiProgram := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(out))
		tuiDone := make(chan struct{})
		stopTUI = tuiStopper(tuiProgram.Send, tuiDone)
		go func() {
			defer close(tuiDone)
			if _, err := tuiProgram.Run(); err != nil {
				slog.Warn("TUI error", "error", err)
			}
		}()
	case "minimal":
		tracker.OnChange(textRep.PrintUpdate)
	}

	r := runner.New(runner.Config{RunType: runType, Debug: opts.debug, User: user}, backend,
		runner.WithNotifier(notifier),
		runner.WithMessages(messages),
		runner.WithBeforeReport(stopTUI),
	)

	start := time.Now()
	runErr := r.Run(ctx, tf.Tasks)
	stopTUI()
	if runErr != nil {
		return runErr
	}

	textRep.PrintStatus(tracker.Snapshot())
	report := reporter.NewRunReport(runType, user, backend.Name(), start, tracker.Results())
	textRep.PrintSummary(report)

	if opts.reportPath != "" {
		if err := reporter.WriteJSONReport(report, opts.reportPath); err != nil {
			slog.Warn("failed to write report", "error", err)
		} else {
			fmt.Fprintf(out, "\nReport: %s\n", opts.reportPath)
		}
	}
	return nil
}

// tuiStopper returns a func that asks the TUI to quit and waits until it has
// restored the terminal. Calls after the first are no-ops.
func tuiStopper(send func(tea.Msg), done <-chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			send(reporter.DoneMsg{})
			<-done
		})
	}
}

// buildBackend returns the backend and the parallelism shown in the header
// (0 when the scheduler decides).
func buildBackend(opts runOptions, cfg *config.Settings, onUpdate runner.UpdateFunc, out, errOut io.Writer) (runner.Backend, int, error) {
	switch opts.backend {
	case "", "local":
		b := runner.NewLocalBackend(runner.LocalConfig{
			Workers:     opts.workers,
			Debug:       opts.debug,
			LogDir:      opts.logDir,
			GPUs:        opts.gpus,
			IdleTimeout: opts.idle,
			Stdout:      out,
			Stderr:      errOut,
			OnUpdate:    onUpdate,
		})
		return b, b.Workers(), nil
	case "spool":
		sc := runner.SpoolConfig{OnUpdate: onUpdate}
		if s := cfg.Spool; s != nil {
			sc.Dir = s.Dir
			sc.Submit = s.Submit
			sc.Probe = s.Probe
			sc.PollInterval = s.PollInterval
			sc.Timeout = s.Timeout
			sc.PollOnly = s.PollOnly
		}
		return runner.NewSpoolBackend(sc), 0, nil
	default:
		return nil, 0, fmt.Errorf("unknown backend %q (want local or spool)", opts.backend)
	}
}

// resolveDisplayMode maps --tui to full, minimal or off. Debug runs stream task
// output to the terminal, so they never get the full-screen TUI.
func resolveDisplayMode(mode string, debug, tty bool) string {
	if mode == "" || mode == "auto" {
		mode = "off"
		if tty {
			mode = "full"
		}
	}
	if debug && mode == "full" {
		mode = "minimal"
	}
	switch mode {
	case "full", "minimal":
		return mode
	default:
		return "off"
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
