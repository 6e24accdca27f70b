package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cleanForce      bool
	cleanWorkspaces bool
	cleanResults    bool
	cleanAll        bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up workspace and result directories",
	Long: `Remove leftover workspaces (for example after a killed sweep) and saved
results.

By default, shows what would be deleted and asks for confirmation.
Use --force to skip confirmation.

Examples:
  vcbench clean                    # Interactive cleanup of workspaces
  vcbench clean --results          # Clean only the results directory
  vcbench clean --all              # Clean everything
  vcbench clean --force            # Skip confirmation prompts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cleanWorkspaces && !cleanResults && !cleanAll {
			cleanWorkspaces = true
		}
		if cleanAll {
			cleanWorkspaces = true
			cleanResults = true
		}

		var candidates []string
		if cleanWorkspaces {
			candidates = append(candidates, cfg.Harness.WorkspaceDir)
		}
		if cleanResults {
			candidates = append(candidates, cfg.Harness.ResultsDir)
		}
		toDelete := existingDirs(candidates)

		if len(toDelete) == 0 {
			fmt.Println("Nothing to clean.")
			return nil
		}

		fmt.Println("The following directories will be deleted:")
		fmt.Println()
		for _, dir := range toDelete {
			fmt.Printf("  %s\n", dir)
		}
		fmt.Println()

		if !cleanForce && !confirm(os.Stdin, os.Stdout, "Delete these directories? [y/N] ") {
			fmt.Println("Cancelled.")
			return nil
		}

		deleted := 0
		for _, dir := range toDelete {
			if err := os.RemoveAll(dir); err != nil {
				fmt.Printf("  Failed to delete %s: %v\n", dir, err)
			} else {
				fmt.Printf("  Deleted %s\n", dir)
				deleted++
			}
		}

		fmt.Printf("\nCleaned up %d directories.\n", deleted)
		return nil
	},
}

// existingDirs keeps the directories that exist, without duplicates.
func existingDirs(dirs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			out = append(out, dir)
		}
	}
	return out
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "skip confirmation prompts")
	cleanCmd.Flags().BoolVar(&cleanWorkspaces, "workspaces", false, "clean the workspace directory")
	cleanCmd.Flags().BoolVar(&cleanResults, "results", false, "clean the results directory")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "clean everything")
}
