package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nkurunziza/docextract/api/handlers"
	"github.com/nkurunziza/docextract/api/routes"
	"github.com/nkurunziza/docextract/config"
	"github.com/nkurunziza/docextract/internal/repository"
	docservice "github.com/nkurunziza/docextract/internal/service/document"
	extservice "github.com/nkurunziza/docextract/internal/service/extraction"
	"github.com/nkurunziza/docextract/internal/utils/validator"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
	"github.com/nkurunziza/docextract/pkg/storage"
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

	queueCfg := queue.AsynqConfig{
		Redis: queue.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Queue: cfg.Redis.Queue,
	}
	producer := queue.NewAsynqProducer(queueCfg, log)
	defer producer.Close()
	mirror := queue.NewRedisMirror(queueCfg.Redis, 0)
	defer mirror.Close()

	docValidator := validator.NewDocumentValidator(cfg.Extraction.MaxFileSize, log)
	documentService := docservice.NewService(docs, blobs, docValidator, log)
	extractionService := extservice.NewService(
		docs, jobs, results,
		docValidator,
		producer, mirror,
		&extservice.Config{MaxRetries: cfg.Extraction.MaxRetries},
		log,
	)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, handlers.NewHandlers(documentService, extractionService, log))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.Error(err))
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
