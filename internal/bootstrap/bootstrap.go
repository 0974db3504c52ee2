package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/portfolio-intake/internal/config"
	"github.com/kirillkom/portfolio-intake/internal/core/ports"
	"github.com/kirillkom/portfolio-intake/internal/core/usecase"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/browser/chromedp"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/cache/redis"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/export"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/extractor"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/extractor/ocr"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/extractor/spreadsheet"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/llm"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/llm/openai"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/portfolio-intake/internal/infrastructure/storage/minio"
	"github.com/kirillkom/portfolio-intake/internal/observability/metrics"
)

// Corroboration holds what the registry capture needs. The capture CLI uses
// it without a database or message bus.
type Corroboration struct {
	Storage      ports.ObjectStorage
	Extractor    ports.TextExtractor
	Engine       *usecase.ExtractionEngine
	Gate         *usecase.ClassificationGate
	Corroborator *usecase.RegistryCorroborator

	closers []func()
}

type App struct {
	Config config.Config

	Processor ports.PortfolioProcessor
	Reader    ports.PortfolioReader
	Events    ports.ProgressSubscriber
	Exporter  ports.BatchExporter
	Metrics   *metrics.HTTPServerMetrics

	closeFn func()
}

// ResilienceHooks feed executor events into metrics. Both fields may be nil.
type ResilienceHooks struct {
	Retry   resilience.RetryObserver
	Breaker resilience.BreakerObserver
}

func (h ResilienceHooks) apply(executor *resilience.Executor) *resilience.Executor {
	if h.Retry != nil {
		executor.WithRetryObserver(h.Retry)
	}
	if h.Breaker != nil {
		executor.WithBreakerObserver(h.Breaker)
	}
	return executor
}

// NewCorroboration wires storage, text extraction, the LLM stack and the
// registry corroborator.
func NewCorroboration(ctx context.Context, cfg config.Config, hooks ResilienceHooks) (*Corroboration, error) {
	storage, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	completer, err := newCompleter(cfg, hooks)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	prompts := usecase.Prompts{
		Classification:      cfg.Prompts.Classification,
		PortfolioExtraction: cfg.Prompts.PortfolioExtraction,
		CompanyNumber:       cfg.Prompts.CompanyNumber,
		ChargeExtraction:    cfg.Prompts.ChargeExtraction,
	}
	gate := usecase.NewClassificationGate(completer, prompts, usecase.ClassificationPolicy{
		ExactMatchConfidence: cfg.ClassifyExactConfidence,
		HeuristicConfidence:  cfg.ClassifyHeuristicConfidence,
		AcceptThreshold:      cfg.ClassifyAcceptThreshold,
	})
	engine := usecase.NewExtractionEngine(completer, prompts)
	textExtractor := newExtractorRouter(cfg)

	browsers := chromedp.NewFactory(chromedp.Config{
		ExecPath:  cfg.BrowserExecPath,
		Headless:  cfg.BrowserHeadless,
		NoSandbox: cfg.BrowserNoSandbox,
	})
	def := usecase.DefaultCorroboratorConfig()
	corroborator := usecase.NewRegistryCorroborator(browsers, storage, textExtractor, engine, usecase.CorroboratorConfig{
		BaseURL:        cfg.RegistryBaseURL,
		ScreenshotRoot: cfg.ScreenshotRoot,
		Tabs:           def.Tabs,
		ChargesTab:     def.ChargesTab,
		WaitTimeout:    cfg.ElementWaitTimeout,
		Timeout:        cfg.CorroborationTimeout,
	})

	c := &Corroboration{
		Storage:      storage,
		Extractor:    textExtractor,
		Engine:       engine,
		Gate:         gate,
		Corroborator: corroborator,
	}

	if cfg.RedisAddr != "" {
		cache, err := redis.New(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			// The cache only saves browser time; run without it.
			slog.Warn("corroboration_cache_disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			corroborator.WithCache(cache)
			c.closers = append(c.closers, func() { _ = cache.Close() })
		}
	}
	return c, nil
}

func (c *Corroboration) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	httpMetrics := metrics.NewHTTPServerMetrics("api")
	pipelineMetrics := metrics.NewPipelineMetrics("api", httpMetrics.Registry())

	hooks := ResilienceHooks{Retry: pipelineMetrics.ObserveRetry, Breaker: pipelineMetrics.ObserveBreaker}
	core, err := NewCorroboration(ctx, cfg, hooks)
	if err != nil {
		return nil, err
	}
	core.Corroborator.WithObserver(pipelineMetrics)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewBatchRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		core.Close()
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	bus, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
		SubjectPrefix: cfg.NATSSubjectPrefix,
		ResilienceExecutor: hooks.apply(resilience.NewExecutor(resilience.Config{
			MaxRetries:     2,
			BaseDelay:      125 * time.Millisecond,
			BreakerEnabled: true,
		})),
	})
	if err != nil {
		core.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init progress bus: %w", err)
	}

	intake := usecase.NewPortfolioIntakeUseCase(
		core.Extractor,
		core.Gate,
		core.Engine,
		core.Corroborator,
		repo,
		core.Storage,
		bus,
		usecase.IntakeConfig{
			AllowedContentTypes:       cfg.AllowedContentTypes,
			MaxFileSizeBytes:          cfg.MaxFileSizeBytes,
			ClassificationConcurrency: cfg.ClassificationConcurrency,
		},
	).WithObserver(pipelineMetrics)

	return &App{
		Config:    cfg,
		Processor: pipelineMetrics.Instrument(intake),
		Reader:    repo,
		Events:    bus,
		Exporter:  export.NewService(repo),
		Metrics:   httpMetrics,

		closeFn: func() {
			bus.Close()
			_ = db.Close()
			core.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newCompleter(cfg config.Config, hooks ResilienceHooks) (ports.ChatCompleter, error) {
	var base ports.ChatCompleter
	switch cfg.LLMProvider {
	case "ollama":
		base = ollama.New(cfg.OllamaURL, cfg.OllamaModel).
			WithTimeout(cfg.LLMTimeout).
			WithKeepAlive(cfg.OllamaKeepAlive)
	case "openai":
		client, err := openai.New(openai.Config{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.OpenAIModel,
			AzureAPIVersion: cfg.OpenAIAzureAPIVersion,
			Timeout:         cfg.LLMTimeout,
		})
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}

	rc := resilience.DefaultConfig()
	rc.MaxRetries = cfg.LLMMaxRetries
	rc.BaseDelay = cfg.LLMBaseDelay
	rc.MaxDelay = cfg.LLMMaxDelay
	executor := hooks.apply(resilience.NewExecutor(rc))

	var limiter *rate.Limiter
	if cfg.LLMRatePerSecond > 0 {
		burst := cfg.LLMBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.LLMRatePerSecond), burst)
	}
	return llm.NewResilientCompleter(base, executor, limiter), nil
}

func newExtractorRouter(cfg config.Config) *extractor.Router {
	sheets := spreadsheet.NewExtractor()
	return extractor.NewRouter().
		Register(pdf.NewExtractor(cfg.PDFMaxChars), "application/pdf").
		Register(ocr.NewExtractor(ocr.Config{
			Binary:      cfg.TesseractBinary,
			Lang:        cfg.TesseractLang,
			TessdataDir: cfg.TesseractDataDir,
			PSM:         cfg.TesseractPSM,
		}), "image/png", "image/jpeg").
		Register(sheets,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"text/csv",
		).
		Register(plaintext.NewExtractor(), "text/plain")
}

func newStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "localfs":
		store, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "minio":
		store, err := minio.New(minio.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.MinIORegion,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.New("unsupported storage backend " + cfg.StorageBackend)
	}
}
