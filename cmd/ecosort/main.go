package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ecosort/internal/config"
	"ecosort/internal/logging"
	"ecosort/internal/remote"
	"ecosort/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Shared state built in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ecosort",
	Short: "EcoSort - coordinated waste pickup",
	Long: `EcoSort coordinates pickup of categorized waste between requesters
and collectors through a shared record store.

Requesters create pickup requests; collectors accept, complete, or reject
them. An optional Gemini-backed analyzer suggests a category and safety
tips from a free-text description.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// openStore builds the facade over the configured record store and resolves
// the session. The returned closer tears both down.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	r, err := remote.NewSQLiteStore(cfg.Remote.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record store: %w", err)
	}

	s := store.New(r, logger)
	if err := s.Init(ctx); err != nil {
		r.Close()
		return nil, nil, err
	}

	closer := func() {
		s.Dispose()
		r.Close()
	}
	return s, closer, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ecosort.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
