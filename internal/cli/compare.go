package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/result"
)

var compareOutputFile string

var compareCmd = &cobra.Command{
	Use:   "compare <dir> [dir...]",
	Short: "Compare multiple sweep results side-by-side",
	Long: `Compare two or more sweep directories and produce a side-by-side
comparison table showing weighted scores, pass rates, cost and per-task
results for every agent in each sweep.`,
	Example: `  vcbench compare results/eval-2026-01-30T143022 results/eval-2026-02-02T091500
  vcbench compare ./run-a ./run-b -o comparison.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sweeps []labeledSummary
		for _, dir := range args {
			s, err := result.LoadSummary(dir)
			if err != nil {
				return fmt.Errorf("loading summary from %s: %w", dir, err)
			}
			sweeps = append(sweeps, labeledSummary{label: filepath.Base(filepath.Clean(dir)), summary: s})
		}

		comparison := buildComparison(sweeps)

		if compareOutputFile != "" {
			if err := writeJSONFile(compareOutputFile, comparison); err != nil {
				return fmt.Errorf("writing comparison: %w", err)
			}
			fmt.Printf(" Comparison saved to: %s\n", compareOutputFile)
		}

		writeComparison(os.Stdout, comparison)
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVarP(&compareOutputFile, "output", "o", "", "write comparison JSON to file")
}

type labeledSummary struct {
	label   string
	summary *result.Summary
}

// Comparison lines up the agents of several sweeps.
type Comparison struct {
	Columns []ComparisonColumn            `json:"columns"`
	Tasks   []string                      `json:"tasks"`
	Scores  map[string]map[string]float64 `json:"scores"` // task -> column -> final score
}

// ComparisonColumn is one agent within one sweep.
type ComparisonColumn struct {
	Name          string  `json:"name"`
	Sweep         string  `json:"sweep"`
	Agent         string  `json:"agent"`
	WeightedScore float64 `json:"weighted_score"`
	PassRate      float64 `json:"pass_rate"`
	TotalCost     float64 `json:"total_cost"`
	Runs          int     `json:"runs"`
}

func buildComparison(sweeps []labeledSummary) Comparison {
	c := Comparison{Scores: make(map[string]map[string]float64)}
	taskSet := make(map[string]bool)

	for _, sw := range sweeps {
		for _, a := range sw.summary.Agents {
			agg := sw.summary.ByAgent[a]
			name := sw.label + "/" + a
			c.Columns = append(c.Columns, ComparisonColumn{
				Name:          name,
				Sweep:         sw.label,
				Agent:         a,
				WeightedScore: agg.WeightedScore,
				PassRate:      agg.PassRate,
				TotalCost:     agg.TotalCost,
				Runs:          agg.Runs,
			})
		}
		for _, e := range sw.summary.Results {
			taskSet[e.Task] = true
			if c.Scores[e.Task] == nil {
				c.Scores[e.Task] = make(map[string]float64)
			}
			c.Scores[e.Task][sw.label+"/"+e.Agent] = e.Final
		}
	}

	for t := range taskSet {
		c.Tasks = append(c.Tasks, t)
	}
	sort.Strings(c.Tasks)
	return c
}

func writeComparison(w io.Writer, c Comparison) {
	printBanner(w, " VCBENCH - Comparison")

	fmt.Fprintf(w, " %-40s %8s %8s %10s\n", "AGENT", "SCORE", "PASS%", "COST")
	fmt.Fprintln(w, " ─────────────────────────────────────────────────────────────────────")
	for _, col := range c.Columns {
		fmt.Fprintf(w, " %-40s %8.1f %7.1f%% %10s\n", col.Name, col.WeightedScore, col.PassRate, fmt.Sprintf("$%.4f", col.TotalCost))
	}
	fmt.Fprintln(w)

	if len(c.Tasks) == 0 {
		return
	}
	header := []string{"Task"}
	for _, col := range c.Columns {
		header = append(header, col.Name)
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(header, " | "))
	fmt.Fprintf(w, "|%s\n", strings.Repeat("------|", len(header)))
	for _, t := range c.Tasks {
		row := []string{t}
		for _, col := range c.Columns {
			score, ok := c.Scores[t][col.Name]
			if !ok {
				row = append(row, "—")
				continue
			}
			row = append(row, fmt.Sprintf("%.1f", score))
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(row, " | "))
	}
	fmt.Fprintln(w)
}
