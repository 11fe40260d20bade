package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"backoffice/internal/amqp"
	"backoffice/internal/assistant"
	"backoffice/internal/books"
	"backoffice/internal/cache"
	"backoffice/internal/cli"
	"backoffice/internal/config"
	apphttp "backoffice/internal/http"
	"backoffice/internal/log"
	"backoffice/internal/webhook"
)

const (
	embeddingCacheSize = 1000
	embeddingCacheTTL  = 30 * time.Minute
	shutdownTimeout    = 30 * time.Second
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := cli.OpenBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer be.Cleanup()

	publisher := cli.NewEventPublisher(cfg, logger)
	defer publisher.Close()

	// AMQP is optional: without it exports are skipped and webhooks go direct.
	var (
		exports   books.ExportQueue
		hookQueue webhook.Queue
	)
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without exports", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			exports, hookQueue = amqpClient, amqpClient
			logger.Info("Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
		}
	}

	hooks := webhook.NewDispatcher(cli.WebhookConfig(cfg), hookQueue, logger.WithComponent(log.ComponentWebhook))

	booksSvc := books.NewService(be.Store, books.Options{
		TenantID:        cfg.TenantID,
		DefaultCurrency: cfg.DefaultCurrency,
		Exports:         exports,
		Events:          publisher,
		Logger:          logger.WithComponent(log.ComponentBooks),
	})

	caches := cache.NewManager(logger)
	embeddings := cache.NewLRUCache[[]float32](embeddingCacheSize, embeddingCacheTTL)
	caches.Register("embeddings", embeddings)
	caches.StartCleanup(5 * time.Minute)
	defer caches.Stop()

	assistantSvc := assistant.NewService(be.Store, cli.NewLLMProvider(cfg, logger), assistant.Options{
		TenantID:      cfg.TenantID,
		TopK:          cfg.RAGTopK,
		MinSimilarity: cfg.RAGMinSimilarity,
		OriginZIP:     cfg.ShipOriginZIP,
		Rates:         assistant.DefaultShippingRates(),
		Embeddings:    embeddings,
		Hooks:         hooks,
		Logger:        logger.WithComponent(log.ComponentAssistant),
	})

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		Books:              booksSvc,
		Assistant:          assistantSvc,
		Store:              be.Store,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Caches:             map[string]apphttp.CacheStats{"embeddings": embeddings},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting backoffice server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			log.FieldTenantID, cfg.TenantID,
			"webhook_mode", string(hooks.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := hooks.Wait(shutdownCtx); err != nil {
			logger.Warn("Pending webhooks abandoned", log.FieldError, err)
		}
		return nil
	})
	return g.Wait()
}
