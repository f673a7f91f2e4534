package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/launchpad/internal/config"
	"github.com/ppiankov/launchpad/internal/task"
)

func newValidateTasksCmd() *cobra.Command {
	var tasksFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate task files without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateTasks(cmd.OutOrStdout(), tasksFile)
		},
	}

	cmd.Flags().StringVar(&tasksFile, "tasks", defaultTasksFile, "path to task file (supports glob patterns)")

	return cmd
}

func validateTasks(w io.Writer, tasksFile string) error {
	paths, err := config.ResolveGlob(tasksFile)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	tf, err := config.LoadTasks(paths)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	fmt.Fprintf(w, "valid: %d tasks in %d files, %d gpus requested\n", len(tf.Tasks), len(paths), totalGPUs(tf.Tasks))
	return nil
}

func totalGPUs(tasks []task.Task) int {
	n := 0
	for _, t := range tasks {
		n += t.Resources.GPUs
	}
	return n
}
