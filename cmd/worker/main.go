package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nkurunziza/docextract/config"
	"github.com/nkurunziza/docextract/internal/dispatcher"
	"github.com/nkurunziza/docextract/internal/extraction"
	"github.com/nkurunziza/docextract/internal/provider"
	"github.com/nkurunziza/docextract/internal/repository"
	"github.com/nkurunziza/docextract/internal/textacquire"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
	"github.com/nkurunziza/docextract/pkg/storage"
	"github.com/nkurunziza/docextract/pkg/worker"
)

func main() {
	cfg := config.GetAppConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			panic(err)
		}
	}

	outputs := []string{"stdout"}
	if cfg.Log.File != "" {
		outputs = append(outputs, cfg.Log.File)
	}
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(outputs),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs, jobs, results, err := openRepositories(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("failed to open repositories", logger.Error(err))
	}

	blobs, err := storage.NewStorage(storage.StorageType(cfg.Storage.Type), log)
	if err != nil {
		log.Fatal("failed to initialize storage", logger.Error(err))
	}

	var renderer textacquire.PageRenderer
	if pr, err := textacquire.NewPdftoppmRenderer(log); err != nil {
		// Image documents still work; scanned PDFs will fail acquisition.
		log.Warn("pdf renderer unavailable", logger.Error(err))
	} else {
		renderer = pr
	}

	engine, err := buildOCREngine(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize OCR engine", logger.Error(err))
	}
	acquirer := textacquire.NewAcquirer(engine, renderer, log)

	visionClient := provider.NewOpenAIClient(provider.OpenAIConfig{
		Endpoint: cfg.Providers.OpenAI.Endpoint,
		APIKey:   cfg.Providers.OpenAI.APIKey,
		Model:    cfg.Providers.OpenAI.Model,
	}, log)
	localPool := provider.NewOllamaPool(provider.OllamaConfig{
		Endpoint:    cfg.Providers.Ollama.Endpoint,
		Model:       cfg.Providers.Ollama.Model,
		MaxPoolSize: cfg.Providers.Ollama.MaxPoolSize,
		PoolTimeout: cfg.Providers.Ollama.PoolTimeout,
	})
	defer localPool.Close()

	chain := extraction.NewChain(
		[]extraction.Strategy{
			extraction.NewVisionStrategy(visionClient, log),
			extraction.NewLocalModelStrategy(localPool, log),
			extraction.NewHeuristicStrategy(log),
		},
		log,
		extraction.WithConfidenceFloor(cfg.Extraction.ConfidenceFloor),
		extraction.WithCallTimeout(cfg.Extraction.CallTimeout),
	)

	queueCfg := queue.AsynqConfig{
		Redis: queue.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Queue:       cfg.Redis.Queue,
		Concurrency: cfg.Redis.Concurrency,
	}
	producer := queue.NewAsynqProducer(queueCfg, log)
	defer producer.Close()
	consumer := queue.NewAsynqConsumer(queueCfg, log)
	mirror := queue.NewRedisMirror(queueCfg.Redis, 0)
	defer mirror.Close()

	retryCfg := dispatcher.Config{
		BackoffBase: cfg.Extraction.BackoffBase,
		BackoffMax:  cfg.Extraction.BackoffMax,
	}
	d := dispatcher.New(docs, jobs, results, blobs, acquirer, renderer, chain, producer, mirror, retryCfg, log)
	wd := dispatcher.NewWatchdog(jobs, producer, cfg.Extraction.StaleAfter, cfg.Extraction.SweepInterval, retryCfg, log)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down worker")
		cancel()
	}()

	if err := worker.New(consumer, d, wd, log).Run(ctx); err != nil {
		log.Error("worker exited with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// buildOCREngine selects the configured OCR backend.
func buildOCREngine(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (textacquire.OCREngine, error) {
	switch strings.ToLower(cfg.OCR.Engine) {
	case "textract":
		tc := config.GetTextractConfig()
		return textacquire.NewTextractEngine(ctx, textacquire.TextractConfig{
			Region:        tc.Region,
			AccessKey:     tc.AccessKey,
			SecretKey:     tc.SecretKey,
			MinConfidence: float32(tc.MinConfidence),
		}, log)
	default:
		return textacquire.NewGosseractEngine(textacquire.GosseractConfig{
			Languages:         cfg.OCR.Languages,
			MinWordConfidence: cfg.OCR.MinWordConfidence,
		}, log)
	}
}

// openRepositories selects Postgres when a database URL is configured and
// the in-memory store otherwise.
func openRepositories(ctx context.Context, databaseURL string) (
	repository.DocumentsRepository,
	repository.JobsRepository,
	repository.ResultsRepository,
	error,
) {
	if databaseURL == "" {
		store := repository.NewMemoryStore()
		return store, store, store, nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return nil, nil, nil, err
	}
	return repository.NewPostgresDocumentsRepository(pool),
		repository.NewPostgresJobsRepository(pool),
		repository.NewPostgresResultsRepository(pool),
		nil
}
