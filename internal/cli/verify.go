package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vibecodingbench/vcbench/internal/result"
	"github.com/vibecodingbench/vcbench/internal/task"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <sweep-dir>",
	Short: "Verify integrity of a sweep submission",
	Long: `Verifies the integrity of a sweep by checking hashes.

This command checks:
  1. Results hash - ensures summary.json wasn't modified after generation
  2. Task hashes - ensures tasks match the ones this harness loads
  3. Harness and weight versions

No tasks are re-run; this only validates hash integrity.

Examples:
  vcbench verify ./results/eval-2026-01-07T120000
  vcbench verify /path/to/submission --tasks-dir ./tasks`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := verifySweep(os.Stdout, args[0], taskLoader(cfg))
		if err != nil {
			return err
		}
		if report.failed > 0 {
			return &exitError{code: 1}
		}
		return nil
	},
}

type verifyReport struct {
	passed   int
	failed   int
	warnings int
}

// verifySweep checks attestation.json in dir against summary.json and the
// tasks loader provides, printing each check to w.
func verifySweep(w io.Writer, dir string, loader *task.Loader) (verifyReport, error) {
	var rep verifyReport

	att, err := result.LoadAttestation(dir)
	if err != nil {
		return rep, err
	}
	summary, err := result.LoadSummary(dir)
	if err != nil {
		return rep, err
	}

	printBanner(w, " VCBENCH - Submission Verification")
	fmt.Fprintf(w, " Agents:    %v\n", att.Eval.Agents)
	fmt.Fprintf(w, " Timestamp: %s\n", att.Eval.Timestamp)
	fmt.Fprintf(w, " Harness:   %s (built %s)\n", att.Harness.Version, att.Harness.BuildDate)
	fmt.Fprintf(w, " Tasks:     %d\n", len(att.Tasks))
	fmt.Fprintln(w)

	section(w, " Verifying Results Integrity")
	computed, err := result.ResultsHash(summary)
	if err != nil {
		return rep, err
	}
	if computed == att.Integrity.ResultsHash {
		fmt.Fprintln(w, " ✓ Results hash matches - summary.json is unmodified")
		rep.passed++
	} else {
		fmt.Fprintln(w, " ✗ Results hash MISMATCH - summary.json may have been tampered with")
		fmt.Fprintf(w, "   Expected: %s\n", att.Integrity.ResultsHash)
		fmt.Fprintf(w, "   Got:      %s\n", computed)
		rep.failed++
	}
	fmt.Fprintln(w)

	section(w, " Verifying Task Hashes")
	all, err := loader.LoadAll()
	if err != nil {
		return rep, fmt.Errorf("loading tasks: %w", err)
	}
	byID := make(map[string]*task.Task, len(all))
	for _, t := range all {
		byID[t.ID] = t
	}

	ids := make([]string, 0, len(att.Tasks))
	for id := range att.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var matches, mismatches, missing int
	for _, id := range ids {
		t := byID[id]
		if t == nil {
			fmt.Fprintf(w, " ? %s - not found in this harness\n", id)
			missing++
			continue
		}
		ours, err := result.TaskHash(t)
		if err != nil {
			return rep, fmt.Errorf("hashing task %s: %w", id, err)
		}
		if ours == att.Tasks[id].TaskHash {
			matches++
			continue
		}
		fmt.Fprintf(w, " ✗ %s - hash mismatch (different task version)\n", id)
		fmt.Fprintf(w, "     theirs: %s\n", att.Tasks[id].TaskHash)
		fmt.Fprintf(w, "     ours:   %s\n", ours)
		mismatches++
	}

	if mismatches == 0 && missing == 0 {
		fmt.Fprintf(w, " ✓ All %d task hashes match - same task versions used\n", matches)
		rep.passed++
	} else {
		if mismatches > 0 {
			fmt.Fprintf(w, " ✗ %d task(s) have different hashes\n", mismatches)
			rep.failed++
		}
		if missing > 0 {
			fmt.Fprintf(w, " ? %d task(s) not found in this harness\n", missing)
			rep.warnings++
		}
		if matches > 0 {
			fmt.Fprintf(w, " ✓ %d task(s) match\n", matches)
		}
	}
	fmt.Fprintln(w)

	section(w, " Version Compatibility")
	if att.Harness.Version == Version {
		fmt.Fprintf(w, " ✓ Harness version matches (%s)\n", Version)
		rep.passed++
	} else {
		fmt.Fprintf(w, " ! Harness version differs (theirs: %s, yours: %s)\n", att.Harness.Version, Version)
		rep.warnings++
	}
	if att.Harness.WeightVersion == task.WeightVersion {
		fmt.Fprintf(w, " ✓ Weight version matches (%s)\n", task.WeightVersion)
		rep.passed++
	} else {
		fmt.Fprintf(w, " ! Weight version differs (theirs: %s, yours: %s)\n", att.Harness.WeightVersion, task.WeightVersion)
		fmt.Fprintln(w, "   Weighted scores are not comparable")
		rep.warnings++
	}
	fmt.Fprintln(w)

	printBanner(w, " VERIFICATION SUMMARY")
	if rep.failed == 0 {
		fmt.Fprintf(w, " ✓ PASSED: %d checks passed", rep.passed)
		if rep.warnings > 0 {
			fmt.Fprintf(w, ", %d warnings", rep.warnings)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w)
		fmt.Fprintln(w, " The submission appears to be authentic and unmodified.")
	} else {
		fmt.Fprintf(w, " ✗ FAILED: %d checks failed, %d passed", rep.failed, rep.passed)
		if rep.warnings > 0 {
			fmt.Fprintf(w, ", %d warnings", rep.warnings)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w)
		fmt.Fprintln(w, " The submission may have been tampered with or uses different task versions.")
	}

	fmt.Fprintln(w)
	section(w, " Claimed Results")
	fmt.Fprintf(w, " Pass Rate: %.1f%% (%d/%d)\n", summary.PassRate, summary.Passed, summary.Total)
	for _, st := range summary.Leaderboard {
		fmt.Fprintf(w, " #%d %-20s %5.1f\n", st.Rank, st.Agent, st.WeightedScore)
	}
	fmt.Fprintln(w)

	return rep, nil
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "─────────────────────────────────────────────────────────────")
}
