package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backoffice/internal/amqp"
	"backoffice/internal/cli"
	"backoffice/internal/config"
	"backoffice/internal/log"
	"backoffice/internal/webhook"
	"backoffice/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)

	logger.Info("Starting backoffice-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("Worker failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func run(cfg *config.Config, logger *log.Logger) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := cli.OpenBackend(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer be.Cleanup()

	exporter, err := cli.NewLedgerExporter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	w := worker.New(be.Store, exporter, webhook.NewSender(cfg.WebhookTimeout), logger)
	consume(ctx, cfg, w.Handlers(), logger)
	return nil
}

// consume keeps a consumer running until ctx is cancelled, reconnecting with
// exponential backoff when the broker goes away.
func consume(ctx context.Context, cfg *config.Config, h amqp.Handlers, logger *log.Logger) {
	attempt := 0
	for {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err == nil {
			attempt = 0
			err = client.Consume(ctx, h)
			client.Close()
		}
		if ctx.Err() != nil {
			return
		}

		delay := amqp.Backoff(attempt)
		attempt++
		logger.Warn("Message consumption stopped, reconnecting",
			log.FieldError, err,
			"retry_in", delay.String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
