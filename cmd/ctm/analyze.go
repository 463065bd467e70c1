package main

import (
	"context"
	"fmt"

	"github.com/rohankatakam/timemachine/internal/analysis"
	"github.com/rohankatakam/timemachine/internal/engine"
	"github.com/spf13/cobra"
)

var analyzeJobs int

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path...]",
	Short: "Ingest the history of local git working copies",
	Long: `Register each working copy, ingest its commits oldest-first and recompute
file ownership. Re-running only ingests commits not seen before.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

var statusCmd = &cobra.Command{
	Use:   "status [repo-id]",
	Short: "Show the analysis status of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := parseRepoID(args[0])
		if err != nil {
			return err
		}
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			st, err := e.Analysis.Status(ctx, repoID)
			if err != nil {
				return err
			}
			return render(st)
		})
	},
}

func init() {
	analyzeCmd.Flags().IntVarP(&analyzeJobs, "jobs", "j", 4, "repositories analyzed concurrently")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine) error {
		ids := make([]int64, 0, len(args))
		for _, path := range args {
			repo, err := e.RegisterLocal(ctx, path)
			if err != nil {
				return err
			}
			ids = append(ids, repo.ID)
		}

		var results []*analysis.RunResult
		if len(ids) == 1 {
			results = []*analysis.RunResult{e.Analysis.Run(ctx, ids[0])}
		} else {
			results = e.Analysis.RunAll(ctx, ids, analyzeJobs)
		}

		if err := render(results); err != nil {
			return err
		}

		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d analyses failed", failed, len(results))
		}
		return nil
	})
}
