package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/storage"
)

var (
	repoRoot string
	dbPath   string

	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Autonomous multi-agent execution and integration pipeline",
	Long: `loom schedules agent executions over a backlog of issues, isolates each
execution in its own git worktree, and integrates finished work through a
reviewed merge queue.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo", "", "repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: <repo>/.loom/loom.db)")
}

// resolveRepoRoot fills the --repo default with the working directory.
func resolveRepoRoot() (string, error) {
	if repoRoot != "" {
		return filepath.Abs(repoRoot)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return wd, nil
}

// openStore opens the project database, creating schema on first use. The
// caller owns the returned storage via closeStore.
func openStore(ctx context.Context) error {
	if store != nil {
		return nil
	}

	root, err := resolveRepoRoot()
	if err != nil {
		return err
	}
	repoRoot = root

	path := dbPath
	if path == "" {
		path = filepath.Join(root, storage.DefaultDBPath)
	}

	store, err = storage.NewStorage(ctx, &storage.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open storage at %s: %w", path, err)
	}
	return nil
}

func closeStore() {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
	}
	store = nil
}
