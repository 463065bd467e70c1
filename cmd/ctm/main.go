package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rohankatakam/timemachine/internal/config"
	"github.com/rohankatakam/timemachine/internal/engine"
	"github.com/rohankatakam/timemachine/internal/logging"
	"github.com/rohankatakam/timemachine/internal/output"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile      string
	verbose      bool
	outputFormat string
	logger       *logrus.Logger
	logCloser    io.Closer
	cfg          *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ctm",
	Short: "Code time machine - mine commit history into ownership and activity facts",
	Long: `ctm ingests a repository's commit history and answers questions about it:
who owns which files, who the experts are, how activity is distributed over
time and which commits introduced a feature.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load config, using defaults: %v\n", err)
			cfg = config.Default()
		}

		logCfg := logging.Config{
			Level:      cfg.Logging.Level,
			OutputFile: cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			JSONFormat: cfg.Logging.JSON,
		}
		if verbose {
			logCfg.Level = "debug"
		}
		logger, logCloser, err = logging.New(logCfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .ctm/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "json", "output format (json, yaml)")

	rootCmd.SetVersionTemplate(`ctm {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(ownershipCmd)
	rootCmd.AddCommand(expertsCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(authorsCmd)
	rootCmd.AddCommand(evolutionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(touchedCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
}

// withEngine opens the engine for the duration of fn
func withEngine(fn func(ctx context.Context, e *engine.Engine) error) error {
	ctx := context.Background()
	e, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close engine")
		}
	}()
	return fn(ctx, e)
}

// render prints v to stdout in the selected format
func render(v interface{}) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return output.NewPrinter(os.Stdout, format).Print(v)
}

func parseRepoID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid repository id %q", arg)
	}
	return id, nil
}
