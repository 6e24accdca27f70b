package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/task"
)

var (
	listCategories   []string
	listDifficulties []string
	listTags         []string
	listJSON         bool
	listAgents       bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available tasks",
	Long: `Lists all available benchmark tasks, optionally filtered by category,
difficulty or tag. With --agents, lists the configured agents instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listAgents {
			for _, name := range cfg.ListAgents() {
				fmt.Println(name)
			}
			return nil
		}

		all, err := taskLoader(cfg).LoadAll()
		if err != nil {
			return err
		}
		taskList := task.Filter{
			Categories:   listCategories,
			Difficulties: listDifficulties,
			Tags:         listTags,
		}.Apply(all)

		if listJSON {
			return outputJSON(os.Stdout, taskList)
		}
		return outputTable(os.Stdout, taskList)
	},
}

func init() {
	listCmd.Flags().StringSliceVarP(&listCategories, "category", "c", nil, "filter by category (repeatable)")
	listCmd.Flags().StringSliceVarP(&listDifficulties, "difficulty", "d", nil, "filter by difficulty (easy, medium, hard)")
	listCmd.Flags().StringSliceVar(&listTags, "tag", nil, "filter by tag")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	listCmd.Flags().BoolVar(&listAgents, "agents", false, "list configured agents instead of tasks")
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputTable(out io.Writer, taskList []*task.Task) error {
	if len(taskList) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tDIFFICULTY\tWEIGHT\tDESCRIPTION")
	fmt.Fprintln(w, "--\t--------\t----------\t------\t-----------")

	for _, t := range taskList {
		desc := t.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", t.ID, t.Category, t.Difficulty, t.ScoreWeight(), desc)
	}

	return w.Flush()
}
