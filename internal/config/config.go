package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all configuration for the consultation server
type Config struct {
	// Server configuration
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"` // development, production

	// Gemini configuration. Without an API key the server runs against mock models.
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiTextModel string `envconfig:"GEMINI_TEXT_MODEL" default:"gemini-2.5-flash"`
	GeminiLiveModel string `envconfig:"GEMINI_LIVE_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	GeminiVoice     string `envconfig:"GEMINI_VOICE" default:"Zephyr"`
	GeminiTimeout   int    `envconfig:"GEMINI_TIMEOUT" default:"30"` // seconds

	// Auth
	JWTSecret     string `envconfig:"JWT_SECRET" default:"your-secret-key-change-in-production"`
	TokenTTLHours int    `envconfig:"TOKEN_TTL_HOURS" default:"24"`

	// Storage. Without a URI consultations are kept in memory.
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"mediconnect"`

	// Dictation (Google Cloud Speech-to-Text)
	SpeechEnabled  bool   `envconfig:"SPEECH_ENABLED" default:"false"`
	SpeechLanguage string `envconfig:"SPEECH_LANGUAGE" default:"rw-RW"`

	// Consultation lifecycle
	MicrophoneTimeout int `envconfig:"MICROPHONE_TIMEOUT" default:"30"` // seconds to wait for the client's permission answer
	CleanupInterval   int `envconfig:"CLEANUP_INTERVAL" default:"5"`    // minutes

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"` // debug, info, warn, error
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and the production-only requirements
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	if c.GeminiTimeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT must be positive, got %d", c.GeminiTimeout)
	}
	if c.MicrophoneTimeout <= 0 {
		return fmt.Errorf("MICROPHONE_TIMEOUT must be positive, got %d", c.MicrophoneTimeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %d", c.CleanupInterval)
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive, got %d", c.TokenTTLHours)
	}

	if c.IsProduction() {
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required in production")
		}
		if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether the server runs with production requirements
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// GeminiRequestTimeout is the per-request deadline for text generation
func (c *Config) GeminiRequestTimeout() time.Duration {
	return time.Duration(c.GeminiTimeout) * time.Second
}

// MicrophoneWait is how long a start waits for microphone permission
func (c *Config) MicrophoneWait() time.Duration {
	return time.Duration(c.MicrophoneTimeout) * time.Second
}

// CleanupEvery is the interval of the stale consultation sweep
func (c *Config) CleanupEvery() time.Duration {
	return time.Duration(c.CleanupInterval) * time.Minute
}

// TokenTTL is the lifetime of issued patient tokens
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}
