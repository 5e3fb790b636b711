package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string

	// JWT
	JWTSecret          string
	JWTExpirationHours int

	// Bootstrap admin, created at startup when missing
	AdminEmail    string
	AdminPassword string

	// Storage (CSV evidence and audit exports)
	StoragePath string

	// Background Workers
	WorkerCount int

	// CORS
	AllowedOrigins []string

	// Email (Resend)
	EnableEmailNotifications bool
	ResendAPIKey             string
	FromEmail                string
	AppURL                   string

	// Sentry
	SentryDSN string

	// Routing and derivation policy (YAML). Empty means built-in defaults.
	PolicyFile string

	// Export Gate
	ExportGateURL        string
	ExportGateToken      string
	PushTimeout          time.Duration
	PushMaxAttempts      int
	PushRetryInterval    time.Duration
	PushRetryBaseBackoff time.Duration
	PushRetryMaxBackoff  time.Duration
	PushRetryConcurrency int

	// Audit ledger
	AuditSigningKey        string
	IntegritySweepInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		Environment:              getEnv("ENVIRONMENT", "development"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		JWTExpirationHours:       getEnvAsInt("JWT_EXPIRATION_HOURS", 12),
		StoragePath:              getEnv("STORAGE_PATH", "./storage"),
		WorkerCount:              getEnvAsInt("WORKER_COUNT", 4),
		AllowedOrigins:           getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		EnableEmailNotifications: getEnvAsBool("ENABLE_EMAIL_NOTIFICATIONS", false),
		ResendAPIKey:             getEnv("RESEND_API_KEY", ""),
		FromEmail:                getEnv("FROM_EMAIL", "billing@fintera.app"),
		AppURL:                   getEnv("APP_URL", "http://localhost:3000"),
		SentryDSN:                getEnv("SENTRY_DSN", ""),
		PolicyFile:               getEnv("POLICY_FILE", ""),
		ExportGateURL:            getEnv("EXPORT_GATE_URL", ""),
		AdminEmail:               getEnv("ADMIN_EMAIL", ""),
		AdminPassword:            getEnv("ADMIN_PASSWORD", ""),
		ExportGateToken:          getEnv("EXPORT_GATE_TOKEN", ""),
		PushTimeout:              getEnvAsDuration("PUSH_TIMEOUT", 10*time.Second),
		PushMaxAttempts:          getEnvAsInt("PUSH_MAX_ATTEMPTS", 8),
		PushRetryInterval:        getEnvAsDuration("PUSH_RETRY_INTERVAL", time.Minute),
		PushRetryBaseBackoff:     getEnvAsDuration("PUSH_RETRY_BASE_BACKOFF", 30*time.Second),
		PushRetryMaxBackoff:      getEnvAsDuration("PUSH_RETRY_MAX_BACKOFF", time.Hour),
		PushRetryConcurrency:     getEnvAsInt("PUSH_RETRY_CONCURRENCY", 4),
		AuditSigningKey:          getEnv("AUDIT_SIGNING_KEY", ""),
		IntegritySweepInterval:   getEnvAsDuration("INTEGRITY_SWEEP_INTERVAL", 6*time.Hour),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Environment == "production" {
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		if cfg.AuditSigningKey == "" {
			return nil, fmt.Errorf("AUDIT_SIGNING_KEY is required in production")
		}
	}

	// Development defaults
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}
	if cfg.AuditSigningKey == "" {
		cfg.AuditSigningKey = "dev-audit-key-change-in-production"
	}

	if cfg.PushTimeout <= 0 {
		return nil, fmt.Errorf("PUSH_TIMEOUT must be positive")
	}
	if cfg.PushMaxAttempts < 1 {
		cfg.PushMaxAttempts = 1
	}
	if cfg.PushRetryConcurrency < 1 {
		cfg.PushRetryConcurrency = 1
	}

	return cfg, nil
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool reads an environment variable as boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an environment variable as a Go duration ("10s", "5m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
