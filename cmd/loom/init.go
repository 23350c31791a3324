package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/loom-sh/loom/internal/config"
	"github.com/loom-sh/loom/internal/vcs"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize loom in the current repository",
	Long: `Create the .loom directory, write a default config.yaml, and initialize
the database. The repository must already be a git repository.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		green := color.New(color.FgGreen).SprintFunc()

		root, err := resolveRepoRoot()
		if err != nil {
			return err
		}
		repoRoot = root

		git, err := vcs.NewGit(ctx)
		if err != nil {
			return fmt.Errorf("git is required: %w", err)
		}
		if !git.IsRepo(ctx, root) {
			return fmt.Errorf("%s is not a git repository (run git init first)", root)
		}

		if err := config.WriteDefault(root); err != nil {
			if errors.Is(err, os.ErrExist) {
				fmt.Printf("  config already exists, leaving it alone\n")
			} else {
				return err
			}
		} else {
			fmt.Printf("%s wrote %s\n", green("✓"), config.Path(root))
		}

		if err := openStore(ctx); err != nil {
			return err
		}
		defer closeStore()
		fmt.Printf("%s initialized database at %s\n", green("✓"), filepath.Join(root, ".loom"))

		fmt.Println("\nNext steps:")
		fmt.Println("  loom issue create -t \"First task\"   add work to the backlog")
		fmt.Println("  loom run                              start the scheduler")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
