package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/types"
)

var (
	specTitle   string
	specContent string
	specIssueID string
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Manage design documents attached to the backlog",
}

var specAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a design document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		spec := &types.Spec{
			Title:   specTitle,
			Content: specContent,
			IssueID: specIssueID,
		}
		if err := store.CreateSpec(ctx, spec); err != nil {
			return err
		}
		fmt.Printf("%s created spec %s\n", color.GreenString("✓"), spec.ID)
		return nil
	},
}

var specListCmd = &cobra.Command{
	Use:   "list",
	Short: "List design documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		specs, err := store.ListSpecs(ctx)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(specs) == 0 {
			fmt.Println(gray("No specs."))
			return nil
		}
		for _, spec := range specs {
			marker := ""
			if spec.Archived {
				marker = gray(" [archived]")
			}
			ref := ""
			if spec.IssueID != "" {
				ref = gray(" -> " + spec.IssueID)
			}
			fmt.Printf("%s %s%s%s\n", spec.Title, gray("("+spec.ID+")"), ref, marker)
		}
		return nil
	},
}

var specShowCmd = &cobra.Command{
	Use:   "show <spec-id>",
	Short: "Show one design document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		spec, err := store.GetSpec(ctx, args[0])
		if err != nil {
			return err
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s\n", bold(spec.Title))
		if spec.IssueID != "" {
			fmt.Printf("issue: %s\n", spec.IssueID)
		}
		if spec.Content != "" {
			fmt.Printf("\n%s\n", spec.Content)
		}
		return nil
	},
}

func init() {
	specAddCmd.Flags().StringVarP(&specTitle, "title", "t", "", "spec title (required)")
	specAddCmd.Flags().StringVarP(&specContent, "content", "c", "", "spec body")
	specAddCmd.Flags().StringVar(&specIssueID, "issue", "", "issue this spec belongs to")
	specAddCmd.MarkFlagRequired("title")

	specCmd.AddCommand(specAddCmd)
	specCmd.AddCommand(specListCmd)
	specCmd.AddCommand(specShowCmd)
	rootCmd.AddCommand(specCmd)
}
