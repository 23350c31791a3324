package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/overlay"
)

var overlayJSON bool

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Project pending checkpoint state over the backlog",
	Long: `Compute the issue and spec state that would exist if all pending and
approved checkpoints were applied. The projection is read-only; nothing
in the database or any branch changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		engine := overlay.NewEngine(store)
		result, err := engine.Compute(ctx)
		if err != nil {
			return err
		}

		if overlayJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		magenta := color.New(color.FgMagenta).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("%s %d checkpoint(s) applied, %d issue(s) and %d spec(s) projected\n\n",
			yellow("Overlay:"), result.Checkpoints-len(result.Skipped),
			result.ProjectedIssues, result.ProjectedSpecs)

		for _, issue := range result.Issues {
			title, _ := issue["title"].(string)
			id, _ := issue["id"].(string)
			if projected, _ := issue["_isProjected"].(bool); projected {
				change, _ := issue["_changeType"].(string)
				fmt.Printf("  %s %s %s\n", magenta("◆"), title, gray(fmt.Sprintf("(%s, %s)", id, change)))
			} else {
				fmt.Printf("  %s %s %s\n", gray("·"), title, gray("("+id+")"))
			}
		}

		if len(result.Skipped) > 0 {
			fmt.Printf("\n%s\n", yellow("Skipped checkpoints:"))
			for _, skip := range result.Skipped {
				fmt.Printf("  %s: %s\n", skip.CheckpointID, skip.Reason)
			}
		}
		return nil
	},
}

func init() {
	overlayCmd.Flags().BoolVar(&overlayJSON, "json", false, "emit the full overlay as JSON")
	rootCmd.AddCommand(overlayCmd)
}
