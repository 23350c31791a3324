package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/control"
	"github.com/loom-sh/loom/internal/gitops"
	"github.com/loom-sh/loom/internal/queue"
	"github.com/loom-sh/loom/internal/runtime"
	"github.com/loom-sh/loom/internal/scheduler"
	"github.com/loom-sh/loom/internal/types"
	"github.com/loom-sh/loom/internal/vcs"
)

var autoMerge bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the execution scheduler",
	Long: `Start the poll loop: ready issues are dispatched to agent executions in
isolated worktrees, and finished work lands in the merge queue. With
--auto-merge, approved queue entries are merged as they become eligible.`,
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
		if !git.IsRepo(ctx, repoRoot) {
			return fmt.Errorf("%s is not a git repository", repoRoot)
		}

		watcher, err := config.NewWatcher(repoRoot)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		var msggen *gitops.MessageGenerator
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			client := anthropic.NewClient(option.WithAPIKey(apiKey))
			msggen = gitops.NewMessageGenerator(&client, "claude-3-5-haiku-20241022")
		}

		rt, err := runtime.NewLocal(store, git, repoRoot, msggen)
		if err != nil {
			return fmt.Errorf("failed to create runtime: %w", err)
		}

		sched := scheduler.New(store, rt, watcher)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		ctrl, err := control.NewServer(control.SocketPath(repoRoot), controlHandler(sched))
		if err != nil {
			sched.Stop()
			return fmt.Errorf("failed to create control server: %w", err)
		}
		if err := ctrl.Start(ctx); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to start control server: %w", err)
		}

		mergeDone := make(chan struct{})
		mergeStop := make(chan struct{})
		if autoMerge {
			processor := queue.NewProcessor(store, git, repoRoot)
			go autoMergeLoop(processor, watcher, mergeStop, mergeDone)
		} else {
			close(mergeDone)
		}

		cfg := watcher.Current()
		fmt.Printf("Scheduler running (poll %s, max %d concurrent). Press Ctrl+C to stop.\n",
			cfg.Scheduler.PollInterval, cfg.Scheduler.MaxConcurrency)
		fmt.Printf("Control socket: %s\n", control.SocketPath(repoRoot))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		ctrl.Stop()
		if autoMerge {
			close(mergeStop)
			<-mergeDone
		}
		sched.Stop()
		fmt.Println("Scheduler stopped.")
		return nil
	},
}

// controlHandler answers control-socket commands against the live scheduler.
func controlHandler(sched *scheduler.Scheduler) control.Handler {
	return func(ctx context.Context, cmd control.Command) (map[string]interface{}, error) {
		switch cmd.Type {
		case control.CommandStatus:
			st := sched.GetStatus()
			active := make([]map[string]interface{}, 0, len(st.Active))
			for _, a := range st.Active {
				active = append(active, map[string]interface{}{
					"execution_id": a.ExecutionID,
					"issue_id":     a.IssueID,
					"group_id":     a.GroupID,
					"started_at":   a.StartedAt.Format(time.RFC3339),
				})
			}
			return map[string]interface{}{
				"running":         st.Running,
				"max_concurrency": st.MaxConcurrency,
				"poll_interval":   st.PollInterval.String(),
				"active":          active,
			}, nil
		case control.CommandPauseGroup:
			return nil, store.UpdateGroupStatus(ctx, cmd.GroupID, types.GroupPaused)
		case control.CommandResumeGroup:
			return nil, store.UpdateGroupStatus(ctx, cmd.GroupID, types.GroupActive)
		default:
			return nil, fmt.Errorf("unknown command %q", cmd.Type)
		}
	}
}

// autoMergeLoop promotes eligible queue entries at twice the poll interval.
// Merges mutate the primary checkout, so failures only warn and the loop
// keeps going.
func autoMergeLoop(processor *queue.Processor, watcher *config.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		interval := 2 * watcher.Current().Scheduler.PollInterval.Std()
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		entry, err := processor.ProcessNext(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: auto-merge failed: %v\n", err)
			continue
		}
		if entry != nil {
			fmt.Printf("auto-merged %s into %s\n", entry.StreamID, entry.TargetBranch)
		}
	}
}

func init() {
	runCmd.Flags().BoolVar(&autoMerge, "auto-merge", false, "automatically merge promotable queue entries")
	rootCmd.AddCommand(runCmd)
}
