package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/storage"
	"github.com/loom-sh/loom/internal/vcs"
)

// minGitVersion is the oldest git with worktree and merge behavior loom
// relies on.
const minGitVersion = "v2.20.0"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check loom installation and environment health",
	Long: `Run health checks for common configuration and environment problems:
git availability and version, repository status, the .loom directory,
database accessibility, config validity, and the agent command.

Exit codes:
  0 - All checks passed
  1 - One or more checks failed`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running loom health checks...\n\n")
		failed := false

		fmt.Printf("%s Git installation\n", cyan("→"))
		git, err := vcs.NewGit(ctx)
		if err != nil {
			failed = true
			fmt.Printf("  %s git not found: %v\n", red("✗"), err)
		} else {
			version, err := git.Version(ctx)
			switch {
			case err != nil:
				failed = true
				fmt.Printf("  %s could not read git version: %v\n", red("✗"), err)
			case semver.Compare("v"+version, minGitVersion) < 0:
				failed = true
				fmt.Printf("  %s git %s is older than required %s\n", red("✗"), version, minGitVersion)
			default:
				fmt.Printf("  %s git %s\n", green("✓"), version)
			}
		}

		root, err := resolveRepoRoot()
		if err != nil {
			fmt.Printf("  %s %v\n", red("✗"), err)
			os.Exit(1)
		}
		repoRoot = root

		fmt.Printf("%s Repository\n", cyan("→"))
		if git != nil && git.IsRepo(ctx, root) {
			fmt.Printf("  %s %s is a git repository\n", green("✓"), root)
		} else {
			failed = true
			fmt.Printf("  %s %s is not a git repository\n", red("✗"), root)
		}

		fmt.Printf("%s Project directory\n", cyan("→"))
		loomDir := filepath.Join(root, config.LoomDir)
		if info, err := os.Stat(loomDir); err != nil {
			failed = true
			fmt.Printf("  %s %s missing (run loom init)\n", red("✗"), loomDir)
		} else if !info.IsDir() {
			failed = true
			fmt.Printf("  %s %s is not a directory\n", red("✗"), loomDir)
		} else {
			fmt.Printf("  %s %s\n", green("✓"), loomDir)
		}

		fmt.Printf("%s Configuration\n", cyan("→"))
		cfg, err := config.Load(root)
		if err != nil {
			failed = true
			fmt.Printf("  %s %v\n", red("✗"), err)
			cfg = config.Default()
		} else {
			fmt.Printf("  %s poll %s, max %d concurrent, target %s\n", green("✓"),
				cfg.Scheduler.PollInterval, cfg.Scheduler.MaxConcurrency, cfg.Scheduler.DefaultBranch)
		}

		fmt.Printf("%s Agent command\n", cyan("→"))
		if len(cfg.Executor.AgentCommand) == 0 {
			failed = true
			fmt.Printf("  %s no agent command configured\n", red("✗"))
		} else if _, err := exec.LookPath(cfg.Executor.AgentCommand[0]); err != nil {
			fmt.Printf("  %s %s not in PATH (executions will fail to start)\n",
				yellow("⚠"), cfg.Executor.AgentCommand[0])
		} else {
			fmt.Printf("  %s %s\n", green("✓"), cfg.Executor.AgentCommand[0])
		}

		fmt.Printf("%s Database\n", cyan("→"))
		path := dbPath
		if path == "" {
			path = filepath.Join(root, storage.DefaultDBPath)
		}
		if _, err := os.Stat(path); err != nil {
			failed = true
			fmt.Printf("  %s %s missing (run loom init)\n", red("✗"), path)
		} else if st, err := storage.NewStorage(ctx, &storage.Config{Path: path}); err != nil {
			failed = true
			fmt.Printf("  %s cannot open %s: %v\n", red("✗"), path, err)
		} else {
			st.Close()
			fmt.Printf("  %s %s\n", green("✓"), path)
		}

		if failed {
			fmt.Printf("\n%s some checks failed\n", red("✗"))
			os.Exit(1)
		}
		fmt.Printf("\n%s all checks passed\n", green("✓"))
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
