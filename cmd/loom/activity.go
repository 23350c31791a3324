package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/events"
)

var (
	activityLimit    int
	activityIssue    string
	activitySeverity string
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show the scheduler activity trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		filter := events.Filter{
			IssueID:  activityIssue,
			Severity: events.Severity(activitySeverity),
			Limit:    activityLimit,
		}
		trail, err := store.GetEvents(ctx, filter)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		if len(trail) == 0 {
			fmt.Println(gray("No activity."))
			return nil
		}
		for _, e := range trail {
			marker := gray("·")
			switch e.Severity {
			case events.SeverityWarning:
				marker = yellow("⚠")
			case events.SeverityError:
				marker = red("✗")
			}
			fmt.Printf("%s %s %s %s\n", gray(e.CreatedAt.Format("2006-01-02 15:04:05")),
				marker, e.Type, e.Message)
		}
		return nil
	},
}

func init() {
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 50, "maximum events to show")
	activityCmd.Flags().StringVar(&activityIssue, "issue", "", "filter by issue id")
	activityCmd.Flags().StringVar(&activitySeverity, "severity", "", "filter by severity")
	rootCmd.AddCommand(activityCmd)
}
