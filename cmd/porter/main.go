// porter is the operator CLI for the pattern orchestration engine: it loads
// a capability registry and a pattern library, then executes, validates and
// lists patterns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"porter/internal/capabilities/builtin"
	"porter/internal/capability"
	"porter/internal/config"
	"porter/internal/logging"
	"porter/internal/orchestrator"
	"porter/internal/pattern"
)

var (
	// Global flags
	configPath string
	patternDir string
	verbose    bool

	// Process logger, built in PersistentPreRunE.
	logger *zap.Logger

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "porter",
	Short: "porter - pattern orchestration & capability routing engine",
	Long: `porter executes declarative, versioned pattern documents against a
registry of named capabilities, threading a reproducibility context through
every step and returning the result with a full execution trace.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if patternDir != "" {
			cfg.Patterns.Dir = patternDir
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&patternDir, "patterns", "p", "", "pattern directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(capabilitiesCmd)
}

// buildRegistry assembles the capability set. Domain deployments register
// their own components here alongside the builtins.
func buildRegistry() (*capability.Registry, error) {
	reg := capability.NewRegistry(capability.WithLogger(logging.Named(logger, "registry")))
	if err := builtin.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// buildEngine loads the pattern library from disk and wires the engine.
func buildEngine() (*orchestrator.Engine, *pattern.Store, error) {
	reg, err := buildRegistry()
	if err != nil {
		return nil, nil, err
	}

	lib, err := pattern.LoadDir(cfg.Patterns.Dir, reg)
	if err != nil {
		return nil, nil, err
	}

	opts := []pattern.StoreOption{pattern.WithStoreLogger(logging.Named(logger, "patterns"))}
	if cfg.Patterns.Watch {
		opts = append(opts, pattern.WithReload(cfg.Patterns.Dir, reg))
	}
	store := pattern.NewStore(lib, opts...)

	stepTimeout, err := cfg.StepTimeout()
	if err != nil {
		return nil, nil, err
	}
	ttl, err := cfg.TTL()
	if err != nil {
		return nil, nil, err
	}

	engine := orchestrator.New(store, reg,
		orchestrator.WithLogger(logging.Named(logger, "orchestrator")),
		orchestrator.WithDefaultStepTimeout(stepTimeout),
		orchestrator.WithDefaultTTL(ttl),
	)
	return engine, store, nil
}
