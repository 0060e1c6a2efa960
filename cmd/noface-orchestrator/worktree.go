package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/femtomc/noface/internal/config"
	"github.com/femtomc/noface/internal/vcs"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect or clean up per-worker git worktrees",
}

var worktreeGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove every worker worktree not currently owned by a running process",
	Long: `gc is intended for operator use between orchestrator runs: it prunes
every sibling worker worktree, since a stopped orchestrator owns none of
them. Do not run it while a serve process is active; it will race the
running loop's own workspace cleanup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectDir, err := filepath.Abs(GetProjectDir())
		if err != nil {
			return err
		}
		cfg, err := config.Load(nil)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		adapter, err := vcs.New(ctx, projectDir, cfg.Project.Name, 30*time.Second)
		if err != nil {
			return fmt.Errorf("vcs adapter: %w", err)
		}
		removed, err := adapter.CleanupOrphanedWorkspaces(ctx, map[string]struct{}{})
		if err != nil {
			return err
		}
		fmt.Printf("removed %d worktree(s)\n", removed)
		return nil
	},
}

func init() {
	worktreeCmd.AddCommand(worktreeGCCmd)
	rootCmd.AddCommand(worktreeCmd)
}
