package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/archive"
	"github.com/zen-systems/cascadegate/pkg/cascade"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/router"
)

var (
	configFile  string
	archiveFlag string
	debugFlag   bool
	aliases     *config.ModelAliases
	logger      zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cascadegate",
		Short: "Cost/quality-gated draft and verifier LLM cascade",
		Long: `Cascadegate answers queries with a cheap draft model and only escalates
	to the expensive verifier model when the draft fails alignment or tool-call
	validation. Tool calls are risk-routed before they reach any model.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = newLogger(debugFlag)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to cascade config file")
	rootCmd.PersistentFlags().StringVar(&archiveFlag, "archive", "", "SQLite archive path for outcomes (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadWithCascadeFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, _ = config.LoadAliasesWithFallback("configs/models.yaml")

	return cfg, nil
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

// similarityFor builds the classifier's semantic backend, or nil for rule-only.
func similarityFor(cfg *config.CascadeConfig, adapters map[string]adapter.Adapter) (router.Similarity, error) {
	cc := cfg.Classifier
	switch cc.Semantic {
	case "", "none":
		return nil, nil
	case "llm":
		a, ok := adapters[cc.SemanticAdapter]
		if !ok {
			return nil, fmt.Errorf("semantic adapter %q not available", cc.SemanticAdapter)
		}
		model := cc.SemanticModel
		if aliases != nil {
			model = aliases.Resolve(model)
		}
		return router.NewLLMSimilarity(a, model, cfg.DomainNames()), nil
	case "exemplar":
		g, ok := adapters["google"].(*adapter.GoogleAdapter)
		if !ok {
			return nil, fmt.Errorf("exemplar similarity requires the google adapter (GOOGLE_API_KEY)")
		}
		return router.NewExemplarSimilarity("exemplar", g.Embed, cc.Exemplars), nil
	default:
		return nil, fmt.Errorf("unknown semantic strategy %q", cc.Semantic)
	}
}

// openArchive opens the outcome archive named by --archive or the config, if any.
func openArchive(cfg *config.CascadeConfig) (*archive.Store, error) {
	path := archiveFlag
	if path == "" {
		path = cfg.Archive.Path
	}
	if path == "" {
		return nil, nil
	}
	return archive.Open(path)
}

// app bundles everything a command needs to run queries.
type app struct {
	cfg     *config.Config
	cascade *cascade.Cascade
	tracker *metrics.Tracker
	archive *archive.Store
}

func (a *app) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			logger.Warn().Err(err).Msg("close archive")
		}
	}
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	adapters, err := createAdapters(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	sim, err := similarityFor(cfg.Cascade, adapters)
	if err != nil {
		return nil, err
	}

	store, err := openArchive(cfg.Cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	trackerOpts := []metrics.TrackerOption{metrics.WithLogger(logger)}
	if store != nil {
		trackerOpts = append(trackerOpts, metrics.WithSink(store))
	}
	tracker := metrics.NewTracker(trackerOpts...)

	c, err := cascade.New(adapters, cfg.Cascade,
		cascade.WithLogger(logger),
		cascade.WithTracker(tracker),
		cascade.WithSimilarity(sim),
		cascade.WithAliases(aliases),
	)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	return &app{cfg: cfg, cascade: c, tracker: tracker, archive: store}, nil
}
