package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/task"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [tasks-dir]",
	Short: "Watch a task directory and validate tasks as they change",
	Long: `Watches an on-disk task tree and reloads it after every burst of changes,
reporting tasks that were added, changed or removed. Descriptors that fail to
parse are reported and the watch continues. Useful while authoring tasks.

Examples:
  vcbench watch ./tasks
  vcbench watch --tasks-dir ./tasks --debounce 1s`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Harness.TasksDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			return errors.New("a tasks directory is required (argument or --tasks-dir)")
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("not a directory: %s", dir)
		}

		ctx, stop := signalContext()
		defer stop()

		w := task.NewWatcher(dir, watchDebounce, func(changes []task.Change) {
			printChanges(os.Stdout, changes)
		}, logger)

		fmt.Printf(" Watching %s (Ctrl+C to stop)\n\n", dir)
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func printChanges(w io.Writer, changes []task.Change) {
	fmt.Fprintf(w, " [%s] %d task(s) changed\n", time.Now().Format("15:04:05"), len(changes))
	for _, c := range changes {
		switch c.Kind {
		case task.Added:
			fmt.Fprintf(w, "   + %s (%s, %s)\n", c.ID, c.Task.Category, c.Task.Difficulty)
		case task.Changed:
			fmt.Fprintf(w, "   ~ %s\n", c.ID)
		case task.Removed:
			fmt.Fprintf(w, "   - %s\n", c.ID)
		}
	}
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before reloading")
}
