// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Risk scoring
	RiskScoreURL     string        // External risk-score service; empty uses the built-in static provider
	RiskScoreTimeout time.Duration // Per-lookup timeout; submissions fail with a dependency timeout past this

	// Fraud detection
	DuplicateWindowDays int     // Default lookback for duplicate-claim detection
	DuplicateTolerance  float64 // Amount tolerance for duplicate matching (0.01 = 1%)

	// Claim intake
	MaxReceiptSize   int64 // Max size per uploaded bill receipt, bytes
	MaxClaimAmount   string
	SeedDefaultRules bool // Load the standard rule set when the catalog is empty

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (empty disables tracing)

	// Security
	AdminSecret  string // Shared secret for admin routes (decide / rules)
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultRiskScoreTimeout    = 3 * time.Second
	DefaultDuplicateWindowDays = 30
	DefaultDuplicateTolerance  = 0.01
	DefaultMaxReceiptSize      = 10 << 20 // 10MB
	DefaultMaxClaimAmount      = "1000000"
	DefaultRateLimitRPM        = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RiskScoreURL:        os.Getenv("RISK_SCORE_URL"),
		RiskScoreTimeout:    getEnvDuration("RISK_SCORE_TIMEOUT", DefaultRiskScoreTimeout),
		DuplicateWindowDays: int(getEnvInt64("DUPLICATE_WINDOW_DAYS", DefaultDuplicateWindowDays)),
		DuplicateTolerance:  getEnvFloat("DUPLICATE_TOLERANCE", DefaultDuplicateTolerance),
		MaxReceiptSize:      getEnvInt64("MAX_RECEIPT_SIZE", DefaultMaxReceiptSize),
		MaxClaimAmount:      getEnv("MAX_CLAIM_AMOUNT", DefaultMaxClaimAmount),
		SeedDefaultRules:    getEnvBool("SEED_DEFAULT_RULES", true),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.DuplicateWindowDays <= 0 {
		return fmt.Errorf("DUPLICATE_WINDOW_DAYS must be positive")
	}
	if c.DuplicateTolerance < 0 || c.DuplicateTolerance > 1 {
		return fmt.Errorf("DUPLICATE_TOLERANCE must be between 0 and 1")
	}
	if c.RiskScoreTimeout <= 0 {
		return fmt.Errorf("RISK_SCORE_TIMEOUT must be positive")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
