package main

import (
	"context"
	"strings"

	"github.com/rohankatakam/timemachine/internal/engine"
	"github.com/rohankatakam/timemachine/internal/patterns"
	"github.com/spf13/cobra"
)

var timelineDays int

var patternsCmd = &cobra.Command{
	Use:   "patterns [repo-id]",
	Short: "Classify commit messages and show activity histograms",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Patterns.Patterns(ctx, repoID)
	}),
}

var timelineCmd = &cobra.Command{
	Use:   "timeline [repo-id]",
	Short: "Count commits per day",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Patterns.Timeline(ctx, repoID, timelineDays)
	}),
}

var authorsCmd = &cobra.Command{
	Use:   "authors [repo-id]",
	Short: "Show per-author commit statistics",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Patterns.AuthorStatistics(ctx, repoID)
	}),
}

var evolutionCmd = &cobra.Command{
	Use:   "evolution [repo-id] [path]",
	Short: "Replay the change history of one file",
	Args:  cobra.ExactArgs(2),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Patterns.FileEvolution(ctx, repoID, args[0])
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search [repo-id] [keyword...]",
	Short: "Rank commits that likely introduced a feature",
	Args:  cobra.MinimumNArgs(2),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Search.FindFeatureCommits(ctx, repoID, args)
	}),
}

var touchedCmd = &cobra.Command{
	Use:   "touched [repo-id] [pattern]",
	Short: "List commits that changed files matching a pattern ('*' is a wildcard)",
	Args:  cobra.ExactArgs(2),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Search.CommitsByFilePattern(ctx, repoID, args[0])
	}),
}

var featuresCmd = &cobra.Command{
	Use:   "features [repo-id]",
	Short: "Group the most relevant commits by feature category",
	Args:  cobra.ExactArgs(1),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Search.FeatureCategories(ctx, repoID)
	}),
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Read and write cached query responses",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get [repo-id] [query]",
	Short: "Look up the cached response for a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		entry, ok, err := e.Cache.Get(ctx, repoID, strings.Join(args, " "))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"hit": ok, "entry": entry}, nil
	}),
}

var cachePutCmd = &cobra.Command{
	Use:   "put [repo-id] [query] [response]",
	Short: "Cache a response for a query",
	Args:  cobra.ExactArgs(3),
	RunE: repoCommand(func(ctx context.Context, e *engine.Engine, repoID int64, args []string) (interface{}, error) {
		return e.Cache.Put(ctx, repoID, args[0], args[1])
	}),
}

func init() {
	timelineCmd.Flags().IntVar(&timelineDays, "days", patterns.DefaultTimelineDays, "window in days")

	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cachePutCmd)
}
