package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/api"
	"github.com/newslens/newslens/internal/archive"
	"github.com/newslens/newslens/internal/config"
	"github.com/newslens/newslens/internal/extract"
	"github.com/newslens/newslens/internal/llm"
	"github.com/newslens/newslens/internal/metrics"
	"github.com/newslens/newslens/internal/realtime"
	"github.com/newslens/newslens/internal/worker"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API, the
// worker pool, and the realtime hub in one process.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis service",
		Long: `Starts the HTTP API, the job worker pool, and the realtime update
hub. All three share one process; the queue decouples them so additional
worker-only processes can be attached later.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	instance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := instance.Config()
	logger := instance.Logger()

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer, err := buildAnalyzer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	extractor := buildExtractor(cfg, logger)

	w := worker.New(
		instance.Queue(),
		instance.JobStore(),
		extractor,
		analyzer,
		instance.Publisher(),
		worker.Config{
			Concurrency:      cfg.Worker.Concurrency,
			QueueMaxAttempts: cfg.Queue.MaxAttempts,
			BackoffBase:      cfg.QueueBackoff(),
			LockDuration:     cfg.LockDuration(),
		},
		logger,
	)

	hub := realtime.New(time.Duration(cfg.Realtime.WriteTimeoutSec)*time.Second, logger)
	server := api.NewServer(instance.JobStore(), instance.Queue(), hub, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := hub.Run(ctx, instance.Subscriber()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime hub stopped", zap.Error(err))
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
	}()

	logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-workerDone
		return fmt.Errorf("http server: %w", err)
	}

	// Let in-flight jobs drain before the app container tears down the
	// broker connections.
	<-workerDone
	logger.Info("service stopped")
	return nil
}

func buildExtractor(cfg config.Config, logger *zap.Logger) *extract.Chain {
	resolver := archive.New(archive.Config{
		Mirrors:    cfg.Archive.Mirrors,
		ProbeDelay: time.Duration(cfg.Archive.ProbeDelayMs) * time.Millisecond,
		Timeout:    time.Duration(cfg.Archive.TimeoutSeconds) * time.Second,
		UserAgent:  cfg.Extract.UserAgent,
	}, logger)

	var mirror *extract.MirrorExtractor
	if cfg.Extract.MirrorEnabled {
		mirror = extract.NewMirrorExtractor(extract.MirrorConfig{
			UserAgent: cfg.Extract.UserAgent,
			Timeout:   time.Duration(cfg.Extract.TimeoutSeconds) * time.Second,
		})
	}
	firecrawl := extract.NewFirecrawlClient(extract.FirecrawlConfig{
		BaseURL: cfg.Extract.FirecrawlURL,
		APIKey:  cfg.Extract.FirecrawlAPIKey,
		Timeout: time.Duration(cfg.Extract.TimeoutSeconds) * time.Second,
	}, logger)

	strategyCfg := extract.StrategyConfig{
		ProactiveHosts: cfg.Archive.ProactiveHosts,
		Mirrors:        cfg.Archive.Mirrors,
		MirrorEnabled:  cfg.Extract.MirrorEnabled,
	}
	if mirror != nil {
		return extract.NewChain(strategyCfg, resolver, mirror, firecrawl, logger)
	}
	return extract.NewChain(strategyCfg, resolver, nil, firecrawl, logger)
}

// buildAnalyzer assembles the two-provider analysis chain. The preferred
// provider is primary; the other, when configured, is the fallback.
func buildAnalyzer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*llm.Chain, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	claude := llm.NewClaudeProvider(llm.ClaudeConfig{
		APIKey:  cfg.LLM.AnthropicAPIKey,
		Model:   cfg.LLM.AnthropicModel,
		Timeout: timeout,
	})
	gemini, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{
		APIKey:  cfg.LLM.GoogleAPIKey,
		Model:   cfg.LLM.GeminiModel,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini provider: %w", err)
	}

	// Order by preference, skipping unconfigured providers. Constructors
	// return nil pointers when no API key is set; the explicit nil checks
	// keep typed nils out of the interface slice.
	var providers []llm.Provider
	if cfg.LLM.PreferGemini {
		if gemini != nil {
			providers = append(providers, gemini)
		}
		if claude != nil {
			providers = append(providers, claude)
		}
	} else {
		if claude != nil {
			providers = append(providers, claude)
		}
		if gemini != nil {
			providers = append(providers, gemini)
		}
	}

	var primary, fallback llm.Provider
	if len(providers) > 0 {
		primary = providers[0]
	}
	if len(providers) > 1 {
		fallback = providers[1]
	}
	if primary == nil {
		logger.Warn("no LLM provider configured; analysis jobs will fail")
	}
	return llm.NewChain(primary, fallback, cfg.LLM.MaxInputChars, logger), nil
}
