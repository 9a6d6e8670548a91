// mcgagent runs the governed five-stage content pipeline: one prompt
// from the command line, or the HTTP shell for continuous operation.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dansasser/multi-corpus-governance-agent/internal/audit"
	"github.com/dansasser/multi-corpus-governance-agent/internal/cache"
	"github.com/dansasser/multi-corpus-governance-agent/internal/config"
	"github.com/dansasser/multi-corpus-governance-agent/internal/contextpack"
	"github.com/dansasser/multi-corpus-governance-agent/internal/corpus"
	"github.com/dansasser/multi-corpus-governance-agent/internal/governance"
	"github.com/dansasser/multi-corpus-governance-agent/internal/pipeline"
	"github.com/dansasser/multi-corpus-governance-agent/internal/provider"
	"github.com/dansasser/multi-corpus-governance-agent/internal/retrieval"
	"github.com/dansasser/multi-corpus-governance-agent/internal/search"
	"github.com/dansasser/multi-corpus-governance-agent/internal/server"
	"github.com/dansasser/multi-corpus-governance-agent/internal/system"
	"github.com/dansasser/multi-corpus-governance-agent/internal/tools"
)

var version = "0.3.0"

var (
	verbose    bool
	configPath string
	userID     string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mcgagent",
	Short: "Governed multi-corpus content pipeline",
	Long: `mcgagent routes a prompt through five governed stages
(Ideator, Drafter, Critic, Revisor, Summarizer), each with a declared
call budget, corpus access set, and transformer requirement. Every tool
invocation passes the policy enforcer; the result carries a complete
attribution chain and metadata bundle.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments configure the environment.
		_ = godotenv.Load()

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one prompt through the pipeline and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		agent, err := buildAgent(cfg)
		if err != nil {
			return err
		}
		defer agent.close()

		prompt := args[0]
		out, err := agent.driver.Run(cmd.Context(), userID, prompt)
		if err != nil {
			var te *pipeline.TaskError
			if errors.As(err, &te) {
				logger.Error("task failed",
					zap.String("task_id", te.TaskID),
					zap.String("stage", string(te.Stage)))
			}
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prompt API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		agent, err := buildAgent(cfg)
		if err != nil {
			return err
		}
		defer agent.close()

		stopSweeper := agent.enforcer.StartSweeper(cfg.SweepInterval(), cfg.SweepRetention())
		defer stopSweeper()

		auth := server.StaticAuthenticator{Token: cfg.Auth.JWTSecret, Subject: "api"}
		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      server.New(agent.driver, auth, agent.memory, logger).Handler(),
			ReadTimeout:  cfg.ServerReadTimeout(),
			WriteTimeout: cfg.ServerWriteTimeout(),
		}

		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		logger.Info("serving", zap.String("addr", cfg.Server.Addr))

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errc:
			return err
		case sig := <-sigc:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return srv.Close()
		}
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Load a JSON snapshot into the corpus database",
	Long: `ingest reads a JSON snapshot of threads, messages, posts, and
articles and writes it to the corpus database. Importers proper (chat
export, social, article scrapers) produce the snapshot format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, err := corpus.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("open corpus database: %w", err)
		}
		defer db.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		counts, err := db.ImportSnapshot(f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d threads, %d messages, %d posts, %d articles\n",
			counts.Threads, counts.Messages, counts.Posts, counts.Articles)
		return nil
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the stage permission catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := governance.NewCatalog()
		table := make([]map[string]any, 0, 5)
		for _, stage := range catalog.StagesInOrder() {
			perms, _ := catalog.PermissionsFor(stage)
			table = append(table, map[string]any{
				"stage":                 stage,
				"max_api_calls":         perms.MaxAPICalls,
				"corpus_access":         perms.CorpusAccess,
				"retrieval_access":      perms.RetrievalAccess,
				"transformer_access":    perms.TransformerAccess,
				"transformer_preferred": perms.TransformerPreferred,
				"transformer_required":  perms.TransformerRequired,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mcgagent %s\n", version)
	},
}

// agent bundles the wired pipeline with its owned resources.
type agent struct {
	driver   *pipeline.Driver
	enforcer *governance.Enforcer
	memory   *system.MemoryMonitor

	db    *corpus.DB
	store cache.Cache
}

func (a *agent) close() {
	if c, ok := a.store.(*cache.Memory); ok {
		c.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildAgent wires the full stack from configuration.
func buildAgent(cfg *config.Config) (*agent, error) {
	db, err := corpus.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}

	var store cache.Cache
	switch cfg.Cache.Backend {
	case "memory":
		store = cache.NewMemory(cfg.Cache.MaxItems, cfg.Cache.Compress)
	case "redis":
		store = cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			UseTLS:   cfg.Cache.Redis.UseTLS,
		}, logger)
	default:
		store = cache.Noop{}
	}

	catalogOpts := []governance.CatalogOption{
		governance.WithCorpusRateLimit(cfg.Governance.CorpusRateLimit),
	}
	for name, limit := range cfg.Governance.CorpusRateOverride {
		if c, ok := governance.ParseCorpus(name); ok {
			catalogOpts = append(catalogOpts, governance.WithCorpusRateOverride(c, limit))
		}
	}
	catalog := governance.NewCatalog(catalogOpts...)
	enforcer := governance.NewEnforcer(catalog,
		governance.NewCallTracker(), governance.NewViolationLog(), nil, logger)

	trail := audit.NewTrail(audit.NewZapSink(logger), logger)
	internal := provider.NewTransformer(
		provider.TransformerMode(cfg.Transformer.Mode), catalog.PunctuationPolicy())

	var external provider.Provider
	if cfg.Provider.APIKey != "" {
		external = provider.NewChat(provider.ChatConfig{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			Model:   cfg.Provider.Model,
			Timeout: cfg.ProviderTimeout(),
		}, logger)
	}

	registry := tools.NewRegistry()
	ttl := cfg.CacheTTL()
	pipeline.RegisterSearchTools(registry,
		search.NewConnector(governance.CorpusPersonal, db, store, ttl, logger),
		search.NewConnector(governance.CorpusSocial, db, store, ttl, logger),
		search.NewConnector(governance.CorpusPublished, db, store, ttl, logger))
	if external != nil {
		pipeline.RegisterModelTool(registry, external)
	}
	if cfg.Retrieval.BaseURL != "" {
		rc := retrieval.New(retrieval.Config{
			BaseURL: cfg.Retrieval.BaseURL,
			APIKey:  cfg.Retrieval.APIKey,
			Timeout: cfg.RetrievalTimeout(),
		}, logger)
		pipeline.RegisterRetrievalTool(registry, rc.Retrieve)
	}

	wrapper := tools.NewWrapper(registry, enforcer, trail, logger,
		tools.WithTransformerAvailability(internal.Available))

	driver := pipeline.NewDriver(pipeline.Deps{
		Enforcer:  enforcer,
		Wrapper:   wrapper,
		Assembler: contextpack.NewAssembler(wrapper, logger),
		External:  external,
		Internal:  internal,
		Trail:     trail,
		Logger:    logger,
	})

	return &agent{
		driver:   driver,
		enforcer: enforcer,
		memory:   system.NewMemoryMonitor(cfg.Server.MemoryLimitBytes, logger),
		db:       db,
		store:    store,
	}, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mcgagent.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "subject id recorded in governance state")

	rootCmd.AddCommand(runCmd, serveCmd, ingestCmd, policyCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
