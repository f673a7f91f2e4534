package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ppiankov/launchpad/internal/config"
)

// Version, Commit and BuildDate are set via LDFLAGS at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	verbose    bool
	configFile string
	logFile    string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "launchpad",
		Short: "Launch a batch of tasks and report the outcome",
		Long:  "launchpad reads task files, runs every task on a local worker pool or an external scheduler, logs failures and sends a run report.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), logFile)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&configFile, "config", config.DefaultSettingsFile, "path to config file")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateTasksCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// setupLogging installs the default slog logger. With path set, records are
// also written to a lumberjack-rotated file.
func setupLogging(w io.Writer, path string) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	if w == nil {
		w = os.Stderr
	}
	if path != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}
