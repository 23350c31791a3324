package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/types"
)

var (
	issueTitle    string
	issueContent  string
	issuePriority int
	issueStatus   string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage the backlog",
}

var issueCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add an issue to the backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		issue := &types.Issue{
			Title:    issueTitle,
			Content:  issueContent,
			Priority: issuePriority,
		}
		if err := store.CreateIssue(ctx, issue); err != nil {
			return err
		}
		fmt.Printf("%s created issue %s\n", color.GreenString("✓"), issue.ID)
		return nil
	},
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		filter := types.IssueFilter{}
		if issueStatus != "" {
			status := types.IssueStatus(issueStatus)
			if !status.IsValid() {
				return fmt.Errorf("invalid status: %s", issueStatus)
			}
			filter.Status = &status
		}

		issues, err := store.ListIssues(ctx, filter)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(issues) == 0 {
			fmt.Println(gray("No issues."))
			return nil
		}
		for _, issue := range issues {
			fmt.Printf("[P%d] %-12s %s %s\n", issue.Priority, issue.Status, issue.Title, gray("("+issue.ID+")"))
		}
		return nil
	},
}

var issueLinkCmd = &cobra.Command{
	Use:   "link <issue-id> <type> <target-id>",
	Short: "Link two issues (types: blocks, depends-on, related)",
	Long: `Create a directed relationship. "A blocks B" means B cannot start until
A closes; "A depends-on B" means A cannot start until B closes.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		relType := types.RelationshipType(args[1])
		if !relType.IsValid() {
			return fmt.Errorf("invalid relationship type: %s", args[1])
		}

		rel := &types.Relationship{IssueID: args[0], TargetID: args[2], Type: relType}
		if err := store.AddRelationship(ctx, rel); err != nil {
			return err
		}
		fmt.Printf("%s %s %s %s\n", color.GreenString("✓"), args[0], relType, args[2])
		return nil
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <issue-id>",
	Short: "Close an issue manually",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		if err := store.UpdateIssueStatus(ctx, args[0], types.IssueStatusClosed); err != nil {
			return err
		}
		fmt.Printf("%s closed %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}

func init() {
	issueCreateCmd.Flags().StringVarP(&issueTitle, "title", "t", "", "issue title (required)")
	issueCreateCmd.Flags().StringVarP(&issueContent, "content", "c", "", "issue description")
	issueCreateCmd.Flags().IntVarP(&issuePriority, "priority", "p", 2, "priority (0 is highest)")
	issueCreateCmd.MarkFlagRequired("title")
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "filter by status")

	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueLinkCmd)
	issueCmd.AddCommand(issueCloseCmd)
	rootCmd.AddCommand(issueCmd)
}
