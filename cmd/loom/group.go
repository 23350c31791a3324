package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/control"
	"github.com/loom-sh/loom/internal/types"
)

var groupBranch string

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage execution groups and stacks",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group with its working branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		group := &types.Group{
			ID:            uuid.New().String(),
			Name:          args[0],
			WorkingBranch: groupBranch,
			Status:        types.GroupActive,
			CreatedAt:     time.Now().UTC(),
		}
		if err := store.CreateGroup(ctx, group); err != nil {
			return err
		}
		fmt.Printf("%s created group %s (%s) on branch %s\n",
			color.GreenString("✓"), group.Name, group.ID, group.WorkingBranch)
		return nil
	},
}

var groupPauseCmd = &cobra.Command{
	Use:   "pause <group-id>",
	Short: "Pause a group; its issues stop being scheduled",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setGroupStatus(args[0], types.GroupPaused) },
}

var groupResumeCmd = &cobra.Command{
	Use:   "resume <group-id>",
	Short: "Resume a paused group",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setGroupStatus(args[0], types.GroupActive) },
}

var stackCmd = &cobra.Command{
	Use:   "stacks",
	Short: "List stacks and their members",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		stacks, err := store.ListStacks(ctx)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(stacks) == 0 {
			fmt.Println(gray("No stacks."))
			return nil
		}
		for _, stack := range stacks {
			fmt.Printf("%s\n", stack.Name)
			for _, entry := range stack.Entries {
				fmt.Printf("  %d: %s\n", entry.Depth, entry.IssueID)
			}
		}
		return nil
	},
}

var stackAddCmd = &cobra.Command{
	Use:   "stack-add <stack-name> <issue-id> <depth>",
	Short: "Place an issue in a stack at the given depth",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()

		depth, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid depth %q: %w", args[2], err)
		}
		if err := store.AddStackEntry(ctx, args[0], args[1], depth); err != nil {
			return err
		}
		fmt.Printf("%s %s placed in %s at depth %d\n", color.GreenString("✓"), args[1], args[0], depth)
		return nil
	},
}

func setGroupStatus(groupID string, status types.GroupStatus) error {
	ctx := context.Background()
	if err := openStore(ctx); err != nil {
		return err
	}
	defer closeStore()

	// Route through a running daemon when one is up; otherwise write the
	// database directly and the next scheduler tick picks it up.
	client := control.NewClient(control.SocketPath(repoRoot))
	var resp *control.Response
	var err error
	if status == types.GroupPaused {
		resp, err = client.PauseGroup(groupID, "")
	} else {
		resp, err = client.ResumeGroup(groupID)
	}
	if err == nil {
		if !resp.Success {
			return fmt.Errorf("daemon rejected command: %s", resp.Error)
		}
	} else if err := store.UpdateGroupStatus(ctx, groupID, status); err != nil {
		return err
	}

	fmt.Printf("%s group %s is now %s\n", color.GreenString("✓"), groupID, status)
	return nil
}

func init() {
	groupCreateCmd.Flags().StringVarP(&groupBranch, "branch", "b", "", "working branch (required)")
	groupCreateCmd.MarkFlagRequired("branch")

	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupPauseCmd)
	groupCmd.AddCommand(groupResumeCmd)
	groupCmd.AddCommand(stackCmd)
	groupCmd.AddCommand(stackAddCmd)
	rootCmd.AddCommand(groupCmd)
}
