// FormSense CLI - adaptive financial-aid form decision engine.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"formsense/internal/advisor"
	"formsense/internal/config"
	"formsense/internal/eligibility"
	"formsense/internal/engine"
	"formsense/internal/logging"
	"formsense/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "formsense",
	Short: "FormSense - adaptive form decision engine",
	Long: `FormSense processes field updates for adaptive, multi-step
financial-aid forms: it evaluates validation rules, walks decision
trees, computes field visibility, detects cross-field conflicts, and
decides when a session needs human review.

Sessions persist between updates and expire after the configured
retention window (24h by default).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logging.Initialize(workspace, logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <workspace>/.formsense/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace directory")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(treesCmd)
	rootCmd.AddCommand(eligibilityCmd)
	rootCmd.AddCommand(summarizeCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(workspace, ".formsense", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runtime bundles everything a command needs to serve requests.
type runtime struct {
	cfg        *config.Config
	orch       *engine.Orchestrator
	pool       *engine.WorkerPool
	dispatcher *engine.Dispatcher
	sessions   store.SessionStore
	ruleStore  store.RuleStore
	treeStore  store.TreeStore
	cleanup    func()
}

// buildRuntime assembles the stores, the orchestrator, and (when
// enabled) the worker pool per the configuration.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	var (
		ruleStore store.RuleStore
		treeStore store.TreeStore
		cleanups  []func()
	)

	sessionDB, err := store.NewSQLiteStore(resolvePath(cfg.Stores.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	cleanups = append(cleanups, func() { _ = sessionDB.Close() })

	switch cfg.Stores.Backend {
	case "sqlite":
		ruleStore, treeStore = sessionDB, sessionDB
	case "registry":
		reg, err := store.NewRegistry(resolvePath(cfg.Stores.RegistryDir))
		if err != nil {
			return nil, fmt.Errorf("loading registry: %w", err)
		}
		if cfg.Stores.WatchRegistry {
			if err := reg.Watch(ctx); err != nil {
				return nil, err
			}
			cleanups = append(cleanups, reg.Stop)
		}
		ruleStore, treeStore = reg, reg
	default:
		return nil, fmt.Errorf("unknown stores backend %q", cfg.Stores.Backend)
	}

	opts := engine.Options{
		Config:    cfg,
		RuleStore: ruleStore,
		TreeStore: treeStore,
		Sessions:  sessionDB,
	}
	if cfg.Engine.EligibilityEnabled {
		adv, err := eligibility.NewAdvisor()
		if err != nil {
			return nil, fmt.Errorf("initializing eligibility advisor: %w", err)
		}
		opts.Eligibility = adv
	}
	if cfg.Advisor.Enabled {
		summarizer, err := advisor.NewGeminiSummarizer(cfg.Advisor.APIKey, cfg.Advisor.Model)
		if err != nil {
			return nil, fmt.Errorf("initializing review summarizer: %w", err)
		}
		opts.Summarizer = summarizer
	} else {
		opts.Summarizer = advisor.TemplateSummarizer{}
	}

	orch := engine.New(opts)

	var pool *engine.WorkerPool
	if cfg.Worker.Enabled {
		pool = engine.NewWorkerPool(orch, engine.WorkerPoolConfig{
			Count:     cfg.Worker.Count,
			QueueSize: cfg.Worker.QueueSize,
		})
		if err := pool.Start(); err != nil {
			return nil, fmt.Errorf("starting worker pool: %w", err)
		}
		cleanups = append(cleanups, pool.Stop)
	}

	return &runtime{
		cfg:        cfg,
		orch:       orch,
		pool:       pool,
		dispatcher: engine.NewDispatcher(orch, pool),
		sessions:   sessionDB,
		ruleStore:  ruleStore,
		treeStore:  treeStore,
		cleanup: func() {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		},
	}, nil
}

func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// parseFieldValue sniffs the scalar type of a CLI-provided value.
func parseFieldValue(raw string) interface{} {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "null", "":
		return nil
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err == nil && fmt.Sprintf("%g", f) == raw {
		return f
	}
	return raw
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
