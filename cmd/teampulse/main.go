// Package main is the teampulse CLI: a developer-activity assistant that
// answers "who did what" questions over an issue tracker and a repository
// host.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"teampulse/internal/agent"
	"teampulse/internal/cache"
	"teampulse/internal/config"
	"teampulse/internal/llm"
	"teampulse/internal/logging"
	"teampulse/internal/repohost"
	"teampulse/internal/session"
	"teampulse/internal/snapshot"
	"teampulse/internal/tracker"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "teampulse",
	Short: "teampulse - team activity assistant over your tracker and repos",
	Long: `teampulse answers natural-language questions about team activity:
who worked on what, which issues moved, what landed in which repository.

It reads from an issue tracker and a repository host, plans the lookups
with a language model when one is configured, and always falls back to a
deterministic path when it is not.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(logging.Options{Level: level, JSON: cfg.Logging.JSON})
		if err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp assembles the full pipeline from config. A missing model or
// unconfigured adapter degrades the corresponding capability instead of
// failing startup.
func buildApp(ctx context.Context, cfg *config.Config) (*agent.Agent, *session.Store, error) {
	resultCache := cache.New(cfg.Cache.MaxSize)

	trackerClient := tracker.NewClient(tracker.Config{
		BaseURL:  cfg.Tracker.BaseURL,
		Email:    cfg.Tracker.Email,
		APIToken: cfg.Tracker.APIToken,
		Timeout:  config.Duration(cfg.Tracker.Timeout, 0),
		CacheTTL: config.Duration(cfg.Cache.TTL, 0),
	}, resultCache, logger)

	hostClient := repohost.NewClient(repohost.Config{
		BaseURL:      cfg.RepoHost.BaseURL,
		Token:        cfg.RepoHost.Token,
		Organization: cfg.RepoHost.Organization,
		Timeout:      config.Duration(cfg.RepoHost.Timeout, 0),
		CacheTTL:     config.Duration(cfg.Cache.TTL, 0),
	}, resultCache, logger)

	model, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		logger.Warn("language model unavailable, running in deterministic mode", zap.Error(err))
		model = nil
	}

	var store *session.Store
	if cfg.Storage.DatabasePath != "" {
		store, err = session.OpenStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open session store: %w", err)
		}
	}

	a := agent.New(agent.Options{
		Tracker:   trackerClient,
		RepoHost:  hostClient,
		Model:     model,
		Sessions:  session.NewManager(store, logger),
		Snapshots: snapshot.NewBuilder(trackerClient, hostClient, config.Duration(cfg.Snapshot.TTL, 0), logger),
		Logger:    logger,
	})
	return a, store, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default teampulse.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
