package main

import (
	"context"

	"github.com/rohankatakam/timemachine/internal/engine"
	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List analyzed repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			repos, err := e.Repositories(ctx)
			if err != nil {
				return err
			}
			return render(repos)
		})
	},
}

var repoShowCmd = &cobra.Command{
	Use:   "show [repo-id]",
	Short: "Show one repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := parseRepoID(args[0])
		if err != nil {
			return err
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			repo, err := e.Repository(ctx, repoID)
			if err != nil {
				return err
			}
			return render(repo)
		})
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "rm [repo-id]",
	Short: "Delete a repository and everything derived from it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := parseRepoID(args[0])
		if err != nil {
			return err
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			if err := e.Forget(ctx, repoID); err != nil {
				return err
			}
			return render(map[string]interface{}{"deleted": repoID})
		})
	},
}

func init() {
	reposCmd.AddCommand(repoShowCmd)
	reposCmd.AddCommand(repoRemoveCmd)
}
