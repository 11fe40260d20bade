package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// HTTP Server
	Port               string
	LogLevel           string
	RateLimitPerMinute int

	TenantID        string
	DefaultCurrency string

	// Database
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string
	SeedFile     string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Webhooks
	WebhookMode           string
	AppointmentWebhookURL string
	OrderWebhookURL       string
	WebhookTimeout        time.Duration

	// LLM and retrieval
	LLMAPIKey         string
	LLMBaseURL        string
	LLMChatModel      string
	LLMEmbeddingModel string
	RAGTopK           int
	RAGMinSimilarity  float64
	ShipOriginZIP     string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenJSON     string
}

var defaults = map[string]any{
	"port":                    "8081",
	"log_level":               "info",
	"rate_limit_per_minute":   60,
	"tenant_id":               "default",
	"default_currency":        "USD",
	"data_backend":            "memory",
	"sqlite_db_path":          "./data/backoffice.db",
	"database_url":            "",
	"seed_file":               "",
	"amqp_url":                "",
	"amqp_exchange":           "backoffice",
	"amqp_queue":              "backoffice_jobs",
	"kafka_brokers":           "",
	"kafka_topic":             "backoffice.events",
	"webhook_mode":            "direct",
	"appointment_webhook_url": "",
	"order_webhook_url":       "",
	"webhook_timeout":         "5s",
	"llm_api_key":             "",
	"llm_base_url":            "",
	"llm_chat_model":          "",
	"llm_embedding_model":     "",
	"rag_top_k":               4,
	"rag_min_similarity":      0.75,
	"ship_origin_zip":         "30301",

	"google_spreadsheet_id":       "",
	"google_sheet_name":           "Ledger",
	"google_service_account_file": "",
	"google_service_account_json": "",
	"google_oauth_client_file":    "",
	"google_oauth_token_file":     "",
	"google_oauth_client_json":    "",
	"google_oauth_token_json":     "",
}

// Load reads defaults, an optional config file named by BACKOFFICE_CONFIG and
// the environment. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("BACKOFFICE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:               v.GetString("port"),
		LogLevel:           v.GetString("log_level"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),

		TenantID:        strings.TrimSpace(v.GetString("tenant_id")),
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(v.GetString("default_currency"))),

		DataBackend:  strings.ToLower(strings.TrimSpace(v.GetString("data_backend"))),
		SQLiteDBPath: v.GetString("sqlite_db_path"),
		DatabaseURL:  v.GetString("database_url"),
		SeedFile:     v.GetString("seed_file"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		KafkaBrokers: splitList(v.GetString("kafka_brokers")),
		KafkaTopic:   v.GetString("kafka_topic"),

		WebhookMode:           strings.ToLower(strings.TrimSpace(v.GetString("webhook_mode"))),
		AppointmentWebhookURL: v.GetString("appointment_webhook_url"),
		OrderWebhookURL:       v.GetString("order_webhook_url"),
		WebhookTimeout:        v.GetDuration("webhook_timeout"),

		LLMAPIKey:         v.GetString("llm_api_key"),
		LLMBaseURL:        v.GetString("llm_base_url"),
		LLMChatModel:      v.GetString("llm_chat_model"),
		LLMEmbeddingModel: v.GetString("llm_embedding_model"),
		RAGTopK:           v.GetInt("rag_top_k"),
		RAGMinSimilarity:  v.GetFloat64("rag_min_similarity"),
		ShipOriginZIP:     v.GetString("ship_origin_zip"),

		GoogleSpreadsheetID:      v.GetString("google_spreadsheet_id"),
		GoogleSheetName:          v.GetString("google_sheet_name"),
		GoogleServiceAccountFile: v.GetString("google_service_account_file"),
		GoogleServiceAccountJSON: v.GetString("google_service_account_json"),
		GoogleOAuthClientFile:    v.GetString("google_oauth_client_file"),
		GoogleOAuthTokenFile:     v.GetString("google_oauth_token_file"),
		GoogleOAuthClientJSON:    v.GetString("google_oauth_client_json"),
		GoogleOAuthTokenJSON:     v.GetString("google_oauth_token_json"),
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SheetsEnabled reports whether ledger exports go to a real spreadsheet.
func (c *Config) SheetsEnabled() bool {
	return strings.TrimSpace(c.GoogleSpreadsheetID) != ""
}

// LLMEnabled reports whether a hosted model is configured.
func (c *Config) LLMEnabled() bool {
	return strings.TrimSpace(c.LLMAPIKey) != ""
}

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	zipPattern      = regexp.MustCompile(`^\d{5}$`)
)

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.TenantID == "" {
		errors = append(errors, "tenant id cannot be empty")
	}
	if !currencyPattern.MatchString(c.DefaultCurrency) {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter code", c.DefaultCurrency))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}

	// Validate data backend
	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite postgres]", c.DataBackend))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		// The worker runs in its own process and must read the server's suggestions.
		if c.DataBackend == "memory" {
			errors = append(errors, "AMQP_URL requires a shared data backend (sqlite or postgres), not memory")
		}
	}

	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		errors = append(errors, "Kafka topic cannot be empty when KAFKA_BROKERS is provided")
	}

	// Webhooks
	switch c.WebhookMode {
	case "direct", "off":
	case "queue":
		if c.AMQPURL == "" {
			errors = append(errors, "webhook mode 'queue' requires AMQP_URL")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid webhook mode '%s': must be one of [direct queue off]", c.WebhookMode))
	}
	for name, raw := range map[string]string{
		"APPOINTMENT_WEBHOOK_URL": c.AppointmentWebhookURL,
		"ORDER_WEBHOOK_URL":       c.OrderWebhookURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be an http(s) URL", name, raw))
		}
	}
	if c.WebhookTimeout <= 0 || c.WebhookTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid webhook timeout %v: must be between 0 and 1 minute", c.WebhookTimeout))
	}

	// Retrieval
	if c.RAGTopK < 1 || c.RAGTopK > 50 {
		errors = append(errors, fmt.Sprintf("invalid RAG top k %d: must be between 1 and 50", c.RAGTopK))
	}
	if c.RAGMinSimilarity < 0 || c.RAGMinSimilarity > 1 {
		errors = append(errors, fmt.Sprintf("invalid RAG min similarity %v: must be between 0 and 1", c.RAGMinSimilarity))
	}
	if !zipPattern.MatchString(c.ShipOriginZIP) {
		errors = append(errors, fmt.Sprintf("invalid ship origin ZIP '%s': must be 5 digits", c.ShipOriginZIP))
	}

	// Google Sheets is optional; when a spreadsheet is named, credentials must be too.
	if c.SheetsEnabled() {
		hasServiceAccount := c.GoogleServiceAccountFile != "" || c.GoogleServiceAccountJSON != ""
		hasOAuthClient := c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != ""
		hasOAuthToken := c.GoogleOAuthTokenFile != "" || c.GoogleOAuthTokenJSON != ""
		if !hasServiceAccount && !(hasOAuthClient && hasOAuthToken) {
			errors = append(errors, "GOOGLE_SPREADSHEET_ID requires a service account or an OAuth client and token")
		}
		for label, path := range map[string]string{
			"Google service account file": c.GoogleServiceAccountFile,
			"Google OAuth client file":    c.GoogleOAuthClientFile,
			"Google OAuth token file":     c.GoogleOAuthTokenFile,
		} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("%s does not exist: %s", label, path))
			}
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
