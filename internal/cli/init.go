// Package cli provides common initialization shared by cmd/backoffice and
// cmd/backoffice-worker.
package cli

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"backoffice/internal/backend"
	"backoffice/internal/config"
	"backoffice/internal/events"
	"backoffice/internal/llm"
	"backoffice/internal/log"
	"backoffice/internal/sheets"
	gsheet "backoffice/internal/sheets/google"
	sheetsmem "backoffice/internal/sheets/memory"
	"backoffice/internal/webhook"
)

// SetupLogger builds a text logger at the given level and makes it the
// process default.
func SetupLogger(level string) *log.Logger {
	logger := log.NewText(level, log.ComponentApp)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", log.FieldError, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenBackend opens the configured store and loads the seed file.
func OpenBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) (*backend.BackendResult, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger).CreateBackend(ctx, bcfg)
}

// NewEventPublisher returns a Kafka publisher when brokers are configured,
// otherwise a publisher that drops events.
func NewEventPublisher(cfg *config.Config, logger *log.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("Event stream disabled - no KAFKA_BROKERS provided")
		return events.Noop{}
	}
	logger.Info("Publishing events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

// NewLLMProvider returns the hosted model when an API key is set and the
// offline provider otherwise.
func NewLLMProvider(cfg *config.Config, logger *log.Logger) llm.Provider {
	if !cfg.LLMEnabled() {
		logger.Info("LLM_API_KEY not set, using offline assistant")
		return llm.NewOfflineProvider()
	}
	return llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:         cfg.LLMAPIKey,
		BaseURL:        cfg.LLMBaseURL,
		ChatModel:      cfg.LLMChatModel,
		EmbeddingModel: cfg.LLMEmbeddingModel,
	})
}

// NewLedgerExporter returns the Google Sheets exporter when a spreadsheet is
// configured and an in-memory one otherwise.
func NewLedgerExporter(ctx context.Context, cfg *config.Config, logger *log.Logger) (sheets.LedgerExporter, error) {
	if !cfg.SheetsEnabled() {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, keeping ledger rows in memory")
		return sheetsmem.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		OAuthClientJSON:    cfg.GoogleOAuthClientJSON,
		OAuthClientFile:    cfg.GoogleOAuthClientFile,
		OAuthTokenJSON:     cfg.GoogleOAuthTokenJSON,
		OAuthTokenFile:     cfg.GoogleOAuthTokenFile,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}

// WebhookConfig maps the configured receivers to event prefixes.
func WebhookConfig(cfg *config.Config) webhook.Config {
	routes := make(map[string]string)
	if cfg.AppointmentWebhookURL != "" {
		routes["appointment."] = cfg.AppointmentWebhookURL
	}
	if cfg.OrderWebhookURL != "" {
		routes["order."] = cfg.OrderWebhookURL
	}
	return webhook.Config{
		Mode:     webhook.Mode(cfg.WebhookMode),
		TenantID: cfg.TenantID,
		Timeout:  cfg.WebhookTimeout,
		Routes:   routes,
	}
}
