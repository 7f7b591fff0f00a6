// Package app wires the service graph shared by the API and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"podbrief/internal/acquisition"
	"podbrief/internal/config"
	"podbrief/internal/coordinator"
	"podbrief/internal/domain"
	"podbrief/internal/matcher"
	"podbrief/internal/notify"
	"podbrief/internal/observability"
	"podbrief/internal/providers"
	"podbrief/internal/store"
	"podbrief/internal/store/memory"
	"podbrief/internal/store/postgres"
	"podbrief/internal/summary"
	"podbrief/internal/ttml"
	"podbrief/internal/upstream/gemini"
	"podbrief/internal/upstream/openai"
)

type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Store       store.Store
	Upstream    *openai.Client
	Providers   []providers.Provider
	Generators  map[domain.Level]summary.Generator
	Engine      *acquisition.Engine
	Coordinator *coordinator.Coordinator
}

// New builds everything except the dispatcher, which depends on the binary.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// No client-wide timeout: every call carries its own context deadline.
	httpClient := &http.Client{Transport: newTransport()}
	upstream := openai.New(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, httpClient, openai.WithObserver(metrics.ObserveUpstream))

	parser := ttml.New(cfg.SplitThresholdChars)
	finder := matcher.New(cfg.ITunesBaseURL, httpClient,
		matcher.WithThreshold(cfg.MatchThreshold),
		matcher.WithTimeout(cfg.MatchTimeout),
	)
	chain := []providers.Provider{
		providers.NewPresupplied(httpClient, parser, cfg.PresuppliedTimeout, logger),
		providers.NewApplePodcasts(httpClient, finder, parser, providers.AppleOptions{
			BaseURL:         cfg.AppleAPIBaseURL,
			BearerToken:     cfg.AppleBearerToken,
			Storefront:      cfg.AppleStorefront,
			MetadataTimeout: cfg.AppleMetadataTimeout,
			AssetTimeout:    cfg.AppleAssetTimeout,
		}, logger),
		providers.NewPaidASR(httpClient, upstream, providers.PaidASROptions{
			Model:           cfg.TranscriptionModel,
			MaxAudioBytes:   cfg.MaxAudioBytes,
			DownloadTimeout: cfg.AudioDownloadTimeout,
			Timeout:         cfg.TranscriptionTimeout,
		}, logger),
	}

	summarizer, err := newSummarizer(cfg, upstream, metrics)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	generators := summary.ForLevels(summarizer, summary.Options{
		MaxTranscriptChars: cfg.MaxTranscriptChars,
		Timeout:            cfg.SummaryTimeout,
	})

	engine := acquisition.New(st, chain, logger,
		acquisition.WithRecorder(metrics),
		acquisition.WithWaitInterval(cfg.TranscriptWaitInterval),
	)
	coord := coordinator.New(st, engine, generators, logger,
		coordinator.WithRecorder(metrics),
		coordinator.WithNotifier(newNotifier(cfg, httpClient, logger)),
		coordinator.WithJobTimeout(cfg.JobTimeout),
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Store:       st,
		Upstream:    upstream,
		Providers:   chain,
		Generators:  generators,
		Engine:      engine,
		Coordinator: coord,
	}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return pg, nil
	case config.StoreMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newSummarizer(cfg config.Config, upstream *openai.Client, metrics *observability.Metrics) (summary.Summarizer, error) {
	switch cfg.SummarizerBackend {
	case config.SummarizerGemini:
		client, err := gemini.New(cfg.GeminiAPIKeys, cfg.GeminiModel, gemini.WithObserver(metrics.ObserveUpstream))
		if err != nil {
			return nil, err
		}
		return summary.NewGemini(client), nil
	case config.SummarizerOpenAI, "":
		return summary.NewOpenAI(upstream, cfg.SummaryModel), nil
	default:
		return nil, fmt.Errorf("unknown summarizer backend %q", cfg.SummarizerBackend)
	}
}

func newNotifier(cfg config.Config, httpClient *http.Client, logger *slog.Logger) coordinator.Notifier {
	if cfg.NotifyWebhookURL != "" {
		return notify.NewWebhook(cfg.NotifyWebhookURL, httpClient, 0)
	}
	return notify.NewLogger(logger)
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func NewLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
