// Command concord evaluates clinical practice guidelines against subject health data.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/attestation"
	"github.com/concord-cpg-engine/internal/config"
	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
	"github.com/concord-cpg-engine/internal/guideline"
	"github.com/concord-cpg-engine/internal/logging"
)

var version = "dev"

var (
	cfgFile string
	verbose bool

	cfg    *domain.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "concord",
	Short: "Clinical guideline evaluation engine",
	Long: "Evaluates computable clinical practice guidelines against a subject's health data: " +
		"eligibility, data sufficiency, user attestation, assessments and recommendations.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		m, err := config.NewManagerFromFile(cfgFile)
		if err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = m.GetConfig()
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger = logging.New(cfg.Log)
		if used := m.ConfigFileUsed(); used != "" {
			logger.WithField("file", used).Debug("Loaded configuration")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: concord.yaml in the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes runs that stopped for input from hard failures.
func exitCode(err error) int {
	switch engine.OutcomeOf(err) {
	case engine.OutcomeNeedsAttestation:
		return 3
	case engine.OutcomeIneligible, engine.OutcomeInsufficient:
		return 2
	}
	return 1
}

func newRegistry() (*guideline.Registry, error) {
	return guideline.NewRegistry(cfg.Guidelines.Dir, cfg.Guidelines.CacheSize, logger)
}

// newEngine builds an engine with the configured attestation store. The returned
// close function releases the store.
func newEngine(ctx context.Context) (*engine.Engine, func(), error) {
	registry, err := newRegistry()
	if err != nil {
		return nil, nil, err
	}
	store, err := attestation.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var opts []engine.Option
	closeFn := func() {}
	if store != nil {
		opts = append(opts, engine.WithStore(store))
		closeFn = func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close attestation store")
			}
		}
	}
	return engine.New(registry, cfg.Evaluation, logger, opts...), closeFn, nil
}

// openStore opens the configured attestation store, failing when none is configured.
func openStore(ctx context.Context) (attestation.Store, error) {
	store, err := attestation.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("no attestation store configured (attestation.store is %q)", cfg.Attestation.Store)
	}
	return store, nil
}
