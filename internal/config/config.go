package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Store
	StoreBackend string // "memory" or "postgres"
	DatabaseURL  string

	// Fraud policy
	FraudMaxAmount        decimal.Decimal
	FraudMerchantDenylist []string
	VelocityMaxPerMinute  int
	VelocityWindow        time.Duration

	// Reconciliation queue
	QueueBufferSize int
	QueueWorkers    int
	QueueMaxRetries int

	// Receipt parser (external OCR service)
	ParserAPIURL string
	HTTPTimeout  time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	ReportCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Auth
	JWTSecret    string
	AuthDisabled bool
}

// defaultDenylist is the standing list of prohibited vendors used when
// FRAUD_MERCHANT_DENYLIST is not configured.
var defaultDenylist = []string{
	"SUSPICIOUS_VENDOR_1",
	"BLACKLISTED_MERCHANT",
	"FRAUD_CORP",
	"SCAM_ENTERPRISES",
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		FraudMaxAmount:        getEnvDecimal("FRAUD_MAX_AMOUNT", decimal.RequireFromString("5000.00")),
		FraudMerchantDenylist: getEnvList("FRAUD_MERCHANT_DENYLIST", defaultDenylist),
		VelocityMaxPerMinute:  getEnvInt("FRAUD_VELOCITY_MAX_PER_MINUTE", 10),
		VelocityWindow:        getEnvDuration("FRAUD_VELOCITY_WINDOW", 60*time.Second),

		QueueBufferSize: getEnvInt("QUEUE_BUFFER_SIZE", 100),
		QueueWorkers:    getEnvInt("QUEUE_WORKERS", 4),
		QueueMaxRetries: getEnvInt("QUEUE_MAX_RETRIES", 3),

		ParserAPIURL: getEnv("PARSER_API_URL", "http://localhost:8091"),
		HTTPTimeout:  getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		ReportCacheTTL: getEnvDuration("REPORT_CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret:    getEnv("JWT_SECRET", "finledger-default-dev-secret-change-me"),
		AuthDisabled: getEnv("AUTH_DISABLED", "false") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList parses a comma-separated env var, trimming whitespace and
// dropping empty items.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
