package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sponsorscope/pkg/auth"
	"sponsorscope/pkg/config"
	"sponsorscope/pkg/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sponsorscope",
	Short: "Sponsorship leaderboard crawler and API",
	Long: `sponsorscope crawls the follower and sponsor graphs of a code-hosting
platform, enriches each discovered user with declared pronouns and an
inferred gender label, estimates sponsorship earnings, and serves the
resulting leaderboard over a read-only JSON API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(authCmd)
}

// loadConfig assembles the effective configuration: file and environment
// first, then stored credentials for anything still missing
func loadConfig() (*config.Config, error) {
	// Validation runs after credential merging, so load leniently here.
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	mergeStoredCredentials(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeStoredCredentials fills credential gaps from the credential store
func mergeStoredCredentials(cfg *config.Config) {
	if cfg.Forge.Token != "" && cfg.Session.Login != "" && cfg.Classifier.APIKey != "" {
		return
	}

	manager, err := auth.NewManager()
	if err != nil {
		return
	}
	account, err := manager.Retrieve(defaultAccount)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			fmt.Println("Warning: could not read stored credentials:", err)
		}
		return
	}

	if cfg.Forge.Token == "" {
		cfg.Forge.Token = account.Token
	}
	if cfg.Session.Login == "" {
		cfg.Session.Login = account.Login
	}
	if cfg.Session.Password == "" {
		cfg.Session.Password = account.Password
	}
	if cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = account.ClassifierKey
	}
}
