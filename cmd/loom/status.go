package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/control"
	"github.com/loom-sh/loom/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog, execution, and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== loom status ==="))

		printDaemonStatus(yellow, gray)

		fmt.Printf("%s\n", yellow("Backlog:"))
		statuses := []types.IssueStatus{
			types.IssueStatusOpen, types.IssueStatusInProgress, types.IssueStatusBlocked,
			types.IssueStatusNeedsReview, types.IssueStatusClosed,
		}
		for _, status := range statuses {
			status := status
			issues, err := store.ListIssues(ctx, types.IssueFilter{Status: &status})
			if err != nil {
				return fmt.Errorf("failed to list issues: %w", err)
			}
			if len(issues) == 0 {
				continue
			}
			fmt.Printf("  %-12s %d\n", status, len(issues))
		}

		ready, err := store.GetReadyIssues(ctx)
		if err != nil {
			return fmt.Errorf("failed to list ready issues: %w", err)
		}
		fmt.Printf("  %-12s %s\n", "ready", green(fmt.Sprintf("%d", len(ready))))

		fmt.Printf("\n%s\n", yellow("Executions:"))
		running, err := store.ListExecutionsByStatus(ctx, types.ExecutionRunning)
		if err != nil {
			return fmt.Errorf("failed to list executions: %w", err)
		}
		if len(running) == 0 {
			fmt.Printf("  %s\n", gray("none running"))
		}
		for _, e := range running {
			fmt.Printf("  %s %s (issue %s, branch %s)\n", green("●"), e.ID[:8], e.IssueID, e.BranchName)
		}

		fmt.Printf("\n%s\n", yellow("Merge queue:"))
		entries, err := store.ListQueueEntries(ctx, types.QueueFilter{})
		if err != nil {
			return fmt.Errorf("failed to list queue: %w", err)
		}
		if len(entries) == 0 {
			fmt.Printf("  %s\n", gray("empty"))
		}
		for _, e := range entries {
			marker := gray("○")
			switch e.Status {
			case types.QueueMerged:
				marker = green("✓")
			case types.QueueFailed:
				marker = red("✗")
			case types.QueueMerging:
				marker = yellow("●")
			}
			fmt.Printf("  %s #%d %s -> %s [%s]\n", marker, e.Position, e.StreamID, e.TargetBranch, e.Status)
		}
		fmt.Println()
		return nil
	},
}

// printDaemonStatus shows live scheduler state when a daemon is reachable
// over the control socket. Absence of a daemon is normal and prints as such.
func printDaemonStatus(yellow, gray func(a ...interface{}) string) {
	fmt.Printf("%s\n", yellow("Scheduler:"))

	resp, err := control.NewClient(control.SocketPath(repoRoot)).Status()
	if err != nil || !resp.Success {
		fmt.Printf("  %s\n\n", gray("not running"))
		return
	}

	fmt.Printf("  running (max %v concurrent, poll %v)\n",
		resp.Data["max_concurrency"], resp.Data["poll_interval"])
	if active, ok := resp.Data["active"].([]interface{}); ok {
		for _, item := range active {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			fmt.Printf("  %v (issue %v)\n", entry["execution_id"], entry["issue_id"])
		}
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
