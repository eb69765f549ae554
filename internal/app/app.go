package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"RiskScanner/internal/aggregator"
	"RiskScanner/internal/classifier"
	"RiskScanner/internal/config"
	"RiskScanner/internal/domain"
	"RiskScanner/internal/embedcache"
	"RiskScanner/internal/httpapi"
	"RiskScanner/internal/infrastructure/email"
	"RiskScanner/internal/infrastructure/llm"
	"RiskScanner/internal/infrastructure/ml"
	"RiskScanner/internal/infrastructure/parser"
	"RiskScanner/internal/infrastructure/scheduler"
	"RiskScanner/internal/infrastructure/storage"
	"RiskScanner/internal/infrastructure/telegram"
	"RiskScanner/internal/logging"
	"RiskScanner/internal/metrics"
	"RiskScanner/internal/ports"
	"RiskScanner/internal/scanner"
	"RiskScanner/internal/summary"
	"RiskScanner/internal/usecase"
)

// Version is stamped at build time.
var Version = "dev"

type repository interface {
	ports.SignalRepository
	ports.EmbeddingRepository
	Close() error
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	store     repository
	cache     *usecase.AssessmentCache
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	server    *httpapi.Server
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	m := metrics.New()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := scanner.NewRegistry()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	registerConnectors(registry, httpClient, cfg.Sources, baseLogger)
	baseLogger.Info("connectors registered", "names", registry.Names())

	source := parser.NewStrategySource(registry, cfg.Search.Timeout, m, baseLogger.With("component", "source"))

	providers, err := newProviders(ctx, cfg, baseLogger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	taxonomy, err := buildTaxonomy(cfg.Classifier.Taxonomy)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("classifier taxonomy: %w", err)
	}
	riskClassifier := classifier.New(taxonomy, providers.fallback(cfg.Classifier.FallbackWith), classifier.Options{
		Threshold:       cfg.Classifier.Threshold,
		StrongMatch:     cfg.Classifier.StrongMatch,
		Workers:         cfg.Classifier.Workers,
		FallbackTimeout: cfg.Classifier.FallbackTimeout,
	}, m, baseLogger.With("component", "classifier"))

	cache := embedcache.New(store, providers.embedder(cfg.Embedding), m, baseLogger.With("component", "embedcache"))
	if n, err := cache.Count(ctx); err != nil {
		baseLogger.Warn("embedding store unreadable", "error", err)
	} else {
		baseLogger.Info("embedding store ready", "records", n)
	}
	summaries := summary.New(providers.generator(cfg.Summary.Generator), cache, summary.Options{
		MaxAttempts: cfg.Summary.MaxAttempts,
		BaseBackoff: cfg.Summary.BaseBackoff,
		TopK:        cfg.Summary.TopK,
	}, m, baseLogger.With("component", "summary"))

	results, err := usecase.NewAssessmentCache(cfg.Search.CacheTTL, 0)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:          source,
		Classifier:      riskClassifier,
		Aggregator:      aggregator.New(nil),
		Signals:         store,
		Summarizer:      summaries,
		Notifiers:       buildNotifiers(cfg.Notifications, baseLogger),
		Cache:           results,
		DefaultDaysBack: cfg.Search.DefaultDaysBack,
		Logger:          baseLogger.With("component", "pipeline"),
	})

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())
	watch := usecase.NewScheduler(driver, pipeline, cfg.Scheduler.Watchlist, cfg.Scheduler.DaysBack, baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		metrics:   m,
		store:     store,
		cache:     results,
		pipeline:  pipeline,
		scheduler: watch,
		server:    httpapi.NewServer(pipeline, m, baseLogger.With("component", "http"), Version),
	}, nil
}

// Pipeline exposes the assessment use case for one-shot CLI commands.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// Serve runs the HTTP API and the watchlist scheduler until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.server,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("shutdown http server: %w", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("stop scheduler: %w", err)
	}
	return serveErr
}

// Watch runs the watchlist scheduler until ctx is done.
func (a *Application) Watch(ctx context.Context) error {
	if len(a.cfg.Scheduler.Watchlist) == 0 {
		return fmt.Errorf("scheduler watchlist is empty")
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Close releases the result cache and the store.
func (a *Application) Close() error {
	a.cache.Close()
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return storage.NewMemoryRepository(), nil
	case "", string(storage.DialectSQLite):
		return storage.Open(ctx, storage.DialectSQLite, cfg.DSN)
	case string(storage.DialectPostgres), "postgresql":
		return storage.Open(ctx, storage.DialectPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func limits(r config.RateConfig) scanner.Limits {
	return scanner.Limits{RequestsPerSecond: r.RequestsPerSecond, Burst: r.Burst, Timeout: r.Timeout}
}

func registerConnectors(reg *scanner.Registry, client *http.Client, cfg config.SourcesConfig, log *slog.Logger) {
	if cfg.BOE.Enabled {
		reg.Register(parser.NewBOEScanner(client, cfg.BOE.BaseURL, limits(cfg.BOE.Rate), log.With("component", "scanner.boe")))
	}
	if cfg.NewsAPI.Enabled && cfg.NewsAPI.APIKey != "" {
		reg.Register(parser.NewNewsAPIScanner(client, parser.NewsAPIOptions{
			BaseURL:     cfg.NewsAPI.BaseURL,
			APIKey:      cfg.NewsAPI.APIKey,
			Language:    cfg.NewsAPI.Language,
			PageSize:    cfg.NewsAPI.PageSize,
			MaxDaysBack: cfg.NewsAPI.MaxDaysBack,
			Limits:      limits(cfg.NewsAPI.Rate),
		}, log.With("component", "scanner.newsapi")))
	} else if cfg.NewsAPI.Enabled {
		log.Warn("newsapi enabled without api key, connector skipped")
	}
	if cfg.YahooFinance.Enabled {
		reg.Register(parser.NewYahooFinanceScanner(client, parser.YahooFinanceOptions{
			BaseURL: cfg.YahooFinance.BaseURL,
			Tickers: cfg.YahooFinance.Tickers,
			Limits:  limits(cfg.YahooFinance.Rate),
		}, log.With("component", "scanner.yahoo")))
	}
	if cfg.RSS.Enabled {
		for _, feed := range cfg.RSS.Feeds {
			reg.Register(parser.NewRSSScanner(client, parser.Feed{
				Name:     feed.Name,
				Category: feed.Category,
				URL:      feed.URL,
			}, limits(cfg.RSS.Rate), log.With("component", "scanner.rss", "feed", feed.Name)))
		}
	}
}

// buildTaxonomy returns nil (the built-in table) unless rules are configured.
func buildTaxonomy(cfg config.TaxonomyConfig) (*classifier.Taxonomy, error) {
	if len(cfg.Rules) == 0 {
		return nil, nil
	}
	rules := make([]classifier.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		lbl := domain.ParseRiskLevel(r.Severity + "-" + r.Category)
		if lbl.IsUnknown() {
			return nil, fmt.Errorf("unknown label %s-%s", r.Severity, r.Category)
		}
		rules = append(rules, classifier.Rule{Label: lbl, Terms: r.Terms})
	}
	return classifier.NewTaxonomy(rules, cfg.BenignTerms, cfg.WeakIndicators, cfg.HighRiskSections)
}

func buildNotifiers(cfg config.NotificationConfig, log *slog.Logger) []ports.Notifier {
	var notifiers []ports.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifiers = append(notifiers, telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Email.Host != "" && cfg.Email.To != "" {
		notifiers = append(notifiers, email.NewNotifier(cfg.Email))
	}
	log.Info("notifiers configured", "count", len(notifiers))
	return notifiers
}

// providers holds the generative backends that have credentials.
type providers struct {
	gemini  *llm.GeminiClient
	chatgpt *llm.ChatGPTClient
	log     *slog.Logger
}

func newProviders(ctx context.Context, cfg config.Config, log *slog.Logger) (providers, error) {
	p := providers{log: log}
	if cfg.Gemini.APIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Gemini)
		if err != nil {
			return providers{}, err
		}
		p.gemini = gemini
	}
	if cfg.ChatGPT.APIKey != "" {
		chatgpt, err := llm.NewChatGPTClient(cfg.ChatGPT)
		if err != nil {
			return providers{}, err
		}
		p.chatgpt = chatgpt
	}
	return p, nil
}

func (p providers) fallback(name string) ports.RiskClassifier {
	switch strings.ToLower(name) {
	case "gemini":
		if p.gemini != nil {
			return p.gemini
		}
	case "chatgpt", "openai":
		if p.chatgpt != nil {
			return p.chatgpt
		}
	case "", "none":
		return nil
	}
	p.log.Warn("classifier fallback unavailable, keyword rules only", "fallback", name)
	return nil
}

func (p providers) generator(name string) ports.Generator {
	switch strings.ToLower(name) {
	case "gemini":
		if p.gemini != nil {
			return p.gemini
		}
	case "chatgpt", "openai":
		if p.chatgpt != nil {
			return p.chatgpt
		}
	case "", "template":
		return nil
	}
	p.log.Warn("summary generator unavailable, using template", "generator", name)
	return nil
}

func (p providers) embedder(cfg config.EmbeddingConfig) ports.Embedder {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		if p.gemini != nil {
			return p.gemini
		}
	case "http":
		if cfg.Endpoint != "" {
			return ml.NewClient(cfg.Endpoint, cfg.Model, cfg.APIKey)
		}
	case "", "none":
		return nil
	}
	p.log.Warn("embedder unavailable, retrieval uses strongest signals", "provider", cfg.Provider)
	return nil
}
