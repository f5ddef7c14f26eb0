// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Integration gateway (orders, email, refunds, subscriptions)
	GatewayURL     string
	GatewayToken   string
	GatewayTimeout time.Duration

	// Engine policy defaults
	ConfidenceThreshold    int
	MaxFollowUps           int
	AutoApprovalWindowDays int
	EvidenceRequired       bool
	ClassifierTimeout      time.Duration
	LookupTimeout          time.Duration
	ActionTimeout          time.Duration

	// Quota settings. The daily limit is a platform constant; the monthly
	// limit is the tenant's purchased allotment (single-plan default here).
	DailyActionLimit   int
	MonthlyActionLimit int
	UnlimitedServices  []string
	UsageAlertsEmail   string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Gateway
		GatewayURL:     getEnv("GATEWAY_URL", "http://localhost:8090"),
		GatewayToken:   getEnv("GATEWAY_TOKEN", ""),
		GatewayTimeout: getDurationEnv("GATEWAY_TIMEOUT", 10*time.Second),

		// Engine
		ConfidenceThreshold:    getIntEnv("CONFIDENCE_THRESHOLD", 70),
		MaxFollowUps:           getIntEnv("MAX_FOLLOW_UPS", 3),
		AutoApprovalWindowDays: getIntEnv("AUTO_APPROVAL_WINDOW_DAYS", 30),
		EvidenceRequired:       getBoolEnv("EVIDENCE_REQUIRED", false),
		ClassifierTimeout:      getDurationEnv("CLASSIFIER_TIMEOUT", 15*time.Second),
		LookupTimeout:          getDurationEnv("LOOKUP_TIMEOUT", 10*time.Second),
		ActionTimeout:          getDurationEnv("ACTION_TIMEOUT", 30*time.Second),

		// Quota
		DailyActionLimit:   getIntEnv("DAILY_ACTION_LIMIT", 200),
		MonthlyActionLimit: getIntEnv("MONTHLY_ACTION_LIMIT", 500),
		UnlimitedServices:  getListEnv("UNLIMITED_SERVICES"),
		UsageAlertsEmail:   getEnv("USAGE_ALERTS_EMAIL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
