package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string

	// Checkpoint store
	CheckpointBackend string // "postgres" or "file"
	CheckpointDir     string

	// Outbound HTTP retry policy
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HTTPTimeout    time.Duration

	// Circuit breaker
	FailureThreshold int
	BreakerCooldown  time.Duration

	// Ingestion sweeps
	IngestEnabled  bool
	IngestInterval time.Duration
	IngestLimit    int
	IngestDryRun   bool

	// Platform credentials and tracked streams
	XBearerToken        string
	XHandles            []string
	FacebookAccessToken string
	FacebookPages       []string
	NewsQueries         []string
	NewsLanguage        string

	// Embed tokens
	EmbedSigningKey string
	EmbedTokenTTL   time.Duration
	EmbedRateLimit  int
	EmbedRateWindow time.Duration
	EmbedAPIKeys    []string
}

func Load() Config {
	return Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnvRequired("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		CheckpointBackend: getEnv("CHECKPOINT_BACKEND", "postgres"),
		CheckpointDir:     getEnv("CHECKPOINT_DIR", "./checkpoints"),

		MaxRetries:     getEnvInt("HTTP_MAX_RETRIES", 6),
		RetryBaseDelay: getEnvDuration("HTTP_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:  getEnvDuration("HTTP_RETRY_MAX_DELAY", 60*time.Second),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:  getEnvDuration("BREAKER_COOLDOWN", 5*time.Minute),

		IngestEnabled:  getEnvBool("INGEST_ENABLED", false),
		IngestInterval: getEnvDuration("INGEST_INTERVAL", 30*time.Minute),
		IngestLimit:    getEnvInt("INGEST_LIMIT", 50),
		IngestDryRun:   getEnvBool("INGEST_DRY_RUN", false),

		XBearerToken:        getEnv("X_BEARER_TOKEN", ""),
		XHandles:            getEnvList("X_HANDLES", nil),
		FacebookAccessToken: getEnv("FACEBOOK_ACCESS_TOKEN", ""),
		FacebookPages:       getEnvList("FACEBOOK_PAGES", nil),
		NewsQueries:         getEnvList("NEWS_QUERIES", nil),
		NewsLanguage:        getEnv("NEWS_LANGUAGE", "hi-IN"),

		EmbedSigningKey: getEnvRequired("EMBED_SIGNING_KEY"),
		EmbedTokenTTL:   getEnvDuration("EMBED_TOKEN_TTL", 60*time.Second),
		EmbedRateLimit:  getEnvInt("EMBED_RATE_LIMIT", 10),
		EmbedRateWindow: getEnvDuration("EMBED_RATE_WINDOW", time.Minute),
		EmbedAPIKeys:    getEnvList("EMBED_API_KEYS", nil),
	}
}

func getEnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("required environment variable " + key + " is not set")
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return n
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "error", err)
			return fallback
		}
		return d
	}
	return fallback
}

// getEnvList parses a comma-separated env var, trimming whitespace and
// dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
