package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/types"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending checkpoints interactively",
	Long: `Walk through checkpoints awaiting review. Each checkpoint shows its
issue, stream, and changed files; approve moves it toward the merge
queue, reject sends the issue back for rework.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		pending, err := store.ListCheckpoints(ctx, types.ReviewPending)
		if err != nil {
			return fmt.Errorf("failed to list pending checkpoints: %w", err)
		}
		if len(pending) == 0 {
			fmt.Println("Nothing to review.")
			return nil
		}

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "[a]pprove / [r]eject / [s]kip / [q]uit > ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("failed to create prompt: %w", err)
		}
		defer rl.Close()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for i, cp := range pending {
			fmt.Printf("\n%s (%d of %d)\n", cyan("=== checkpoint "+shortID(cp.ID)+" ==="), i+1, len(pending))
			if issue, err := store.GetIssue(ctx, cp.IssueID); err == nil {
				fmt.Printf("Issue:   %s (%s)\n", issue.Title, issue.ID)
			}
			fmt.Printf("Stream:  %s -> %s\n", cp.StreamID, cp.TargetBranch)
			fmt.Printf("Commit:  %s (parent %s)\n", shortID(cp.CommitSHA), shortID(cp.ParentCommit))
			if len(cp.ChangedFiles) > 0 {
				fmt.Printf("Files:\n")
				for _, f := range cp.ChangedFiles {
					fmt.Printf("  %s\n", gray(f))
				}
			}

			answered := false
			for !answered {
				line, err := rl.Readline()
				if err != nil {
					fmt.Println("\nReview session ended.")
					return nil
				}
				switch strings.ToLower(strings.TrimSpace(line)) {
				case "a", "approve":
					if err := store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewApproved); err != nil {
						return err
					}
					fmt.Printf("%s approved\n", green("✓"))
					answered = true
				case "r", "reject":
					if err := store.UpdateCheckpointReviewStatus(ctx, cp.ID, types.ReviewRejected); err != nil {
						return err
					}
					if cp.IssueID != "" {
						if err := store.UpdateIssueStatus(ctx, cp.IssueID, types.IssueStatusNeedsReview); err != nil {
							fmt.Printf("warning: failed to flag issue %s: %v\n", cp.IssueID, err)
						}
					}
					fmt.Printf("%s rejected\n", red("✗"))
					answered = true
				case "s", "skip":
					answered = true
				case "q", "quit":
					fmt.Println("Review session ended.")
					return nil
				default:
					fmt.Println("Please answer a, r, s, or q.")
				}
			}
		}

		fmt.Println("\nAll pending checkpoints reviewed.")
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}
