package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/queue"
	"github.com/loom-sh/loom/internal/types"
	"github.com/loom-sh/loom/internal/vcs"
)

var (
	queueStatusFilter string
	queueBranchFilter string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the merge queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		filter := types.QueueFilter{
			Status:       types.QueueStatus(queueStatusFilter),
			TargetBranch: queueBranchFilter,
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			return fmt.Errorf("invalid status filter: %s", queueStatusFilter)
		}

		manager := queue.NewManager(store)
		entries, stats, err := manager.GetQueueWithStats(ctx, filter)
		if err != nil {
			return err
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if len(entries) == 0 {
			fmt.Println(gray("Queue is empty."))
		}
		for _, e := range entries {
			promote := red("blocked")
			if e.CanPromote {
				promote = green("promotable")
			}
			title := e.IssueTitle
			if title == "" {
				title = gray("(unknown issue)")
			}
			fmt.Printf("%2d. %s  %s\n", e.Position, title, promote)
			fmt.Printf("    id=%s stream=%s -> %s status=%s review=%s\n",
				e.ID[:8], e.StreamID, e.TargetBranch, e.Status, e.ReviewStatus)
			if e.StackName != "" {
				fmt.Printf("    stack=%s depth=%d\n", e.StackName, e.StackDepth)
			}
			if len(e.BlockedReasons) > 0 {
				fmt.Printf("    %s %s\n", red("⚠"), strings.Join(e.BlockedReasons, "; "))
			}
		}

		fmt.Printf("\n%s %d total", yellow("Queue:"), stats.Total)
		for status, n := range stats.ByStatus {
			fmt.Printf(", %d %s", n, status)
		}
		fmt.Println()
		for stack, n := range stats.ByStack {
			fmt.Printf("  %s: %d\n", stack, n)
		}
		return nil
	},
}

var queueMoveCmd = &cobra.Command{
	Use:   "move <entry-id> <position>",
	Short: "Move a queue entry to a new position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		position, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[1], err)
		}

		manager := queue.NewManager(store)
		validation, err := manager.Reorder(ctx, args[0], position)
		if err != nil {
			return err
		}
		if !validation.Valid {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s move rejected: entry depends on unmerged work from %s\n",
				red("✗"), strings.Join(validation.BlockedBy, ", "))
			return nil
		}
		fmt.Printf("moved %s to position %d\n", args[0], position)
		return nil
	},
}

var queuePromoteCmd = &cobra.Command{
	Use:   "promote <entry-id>",
	Short: "Merge one eligible queue entry now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		git, err := vcs.NewGit(ctx)
		if err != nil {
			return fmt.Errorf("git is required: %w", err)
		}

		processor := queue.NewProcessor(store, git, repoRoot)
		if err := processor.Promote(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s entry %s processed\n", color.GreenString("✓"), args[0])
		return nil
	},
}

func init() {
	queueCmd.Flags().StringVar(&queueStatusFilter, "status", "", "filter by entry status")
	queueCmd.Flags().StringVar(&queueBranchFilter, "target", "", "filter by target branch")
	queueCmd.AddCommand(queueMoveCmd)
	queueCmd.AddCommand(queuePromoteCmd)
	rootCmd.AddCommand(queueCmd)
}
