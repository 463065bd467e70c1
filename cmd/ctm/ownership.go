package main

import (
	"context"
	"fmt"

	"github.com/rohankatakam/timemachine/internal/engine"
	"github.com/spf13/cobra"
)

var expertsExtension string

var ownershipCmd = &cobra.Command{
	Use:   "ownership",
	Short: "Query file ownership",
	Long:  `Ownership is each author's share of the lines added to a file over its history.`,
}

var ownershipFileCmd = &cobra.Command{
	Use:   "file [repo-id] [path]",
	Short: "Show the owners of one file",
	Args:  cobra.ExactArgs(2),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Ownership.FileOwnership(ctx, repoID, args[0])
	}),
}

var ownershipAuthorCmd = &cobra.Command{
	Use:   "author [repo-id] [name]",
	Short: "Summarize what one author owns",
	Args:  cobra.ExactArgs(2),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Ownership.AuthorSummary(ctx, repoID, args[0])
	}),
}

var ownershipOverviewCmd = &cobra.Command{
	Use:   "overview [repo-id]",
	Short: "Show repository-wide ownership rankings",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Ownership.RepositoryOverview(ctx, repoID)
	}),
}

var ownershipHeatmapCmd = &cobra.Command{
	Use:   "heatmap [repo-id]",
	Short: "Show file x author ownership cells above 10%",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Ownership.Heatmap(ctx, repoID)
	}),
}

var ownershipRecomputeCmd = &cobra.Command{
	Use:   "recompute [repo-id]",
	Short: "Recompute ownership from the ingested history",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		result := e.Ownership.AnalyzeRepository(ctx, repoID)
		if !result.Success {
			render(result)
			return nil, fmt.Errorf("ownership recompute failed: %s", result.Failure.Detail)
		}
		return result, nil
	}),
}

var expertsCmd = &cobra.Command{
	Use:   "experts [repo-id]",
	Short: "Rank authors by expertise",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Ownership.Experts(ctx, repoID, expertsExtension)
	}),
}

func init() {
	expertsCmd.Flags().StringVar(&expertsExtension, "ext", "", "only consider files with this extension (e.g. go)")

	ownershipCmd.AddCommand(ownershipFileCmd)
	ownershipCmd.AddCommand(ownershipAuthorCmd)
	ownershipCmd.AddCommand(ownershipOverviewCmd)
	ownershipCmd.AddCommand(ownershipHeatmapCmd)
	ownershipCmd.AddCommand(ownershipRecomputeCmd)
}

// repoCommand adapts a query taking a repository id as its first argument
// into a cobra RunE that renders the query's result
func repoCommand(query func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		repoID, err := parseRepoID(args[0])
		if err != nil {
			return err
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			if _, err := e.Repository(ctx, repoID); err != nil {
				return err
			}
			result, err := query(ctx, e, repoID, args[1:])
			if err != nil {
				return err
			}
			return render(result)
		})
	}
}
