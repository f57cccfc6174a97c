package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice server
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8000"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9000"` // gRPC health service; empty disables it

	// Comma separated list of origins allowed to call the API from a browser
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// Upstream TTS vendor: playht or openai
	TTSProvider string `envconfig:"TTS_PROVIDER" default:"playht"`

	// Play.ht streaming API configuration
	PlayHTAPIKey string `envconfig:"PLAY_HT_API_KEY"`
	PlayHTUserID string `envconfig:"PLAY_HT_USER_ID"`
	PlayHTURL    string `envconfig:"PLAY_HT_URL" default:"https://api.play.ai/api/v1/tts/stream"`

	// OpenAI speech API configuration
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAITTSModel string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`

	// Size of the chunks relayed to the client, in bytes
	StreamChunkSize int `envconfig:"STREAM_CHUNK_SIZE" default:"4096"`

	// Settings persistence: memory, file or postgres
	SettingsBackend string `envconfig:"SETTINGS_BACKEND" default:"memory"`
	SettingsFile    string `envconfig:"SETTINGS_FILE" default:"voice-settings.yaml"`
	DatabaseURL     string `envconfig:"DATABASE_URL" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Attempts to open the upstream stream
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// ClientConfig holds the configuration of the narrator reader
type ClientConfig struct {
	// Base URL of the voice server, e.g. http://localhost:8000
	VoiceServerURL string `envconfig:"VOICE_SERVER_URL" required:"true"`

	// Transport used to reach the voice server: http or ws
	Transport string `envconfig:"VOICE_TRANSPORT" default:"http"`

	// Telemetry poll interval in milliseconds
	PollInterval int `envconfig:"POLL_INTERVAL_MS" default:"100"`

	// Abort a narration when no chunk arrives for this many seconds (0 waits forever)
	StallTimeout int `envconfig:"STALL_TIMEOUT" default:"0"`

	// Playback drain rate in bytes per second (128 kbps MP3)
	PlaybackRate int `envconfig:"PLAYBACK_RATE" default:"16000"`

	// Settings persistence: memory, file or postgres
	SettingsBackend string `envconfig:"SETTINGS_BACKEND" default:"file"`
	SettingsFile    string `envconfig:"SETTINGS_FILE" default:"voice-settings.yaml"`
	DatabaseURL     string `envconfig:"DATABASE_URL" default:""`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}

// Load reads the voice server configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads the voice server configuration directly from environment
// variables without attempting to load .env file
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

// Validate checks provider credentials and enum values
func (c *Config) Validate() error {
	switch c.TTSProvider {
	case "playht":
		if c.PlayHTAPIKey == "" {
			return fmt.Errorf("PLAY_HT_API_KEY is required")
		}
		if c.PlayHTUserID == "" {
			return fmt.Errorf("PLAY_HT_USER_ID is required")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider)
	}
	if c.StreamChunkSize <= 0 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be positive")
	}
	return validateBackend(c.SettingsBackend, c.DatabaseURL)
}

// Origins splits AllowedOrigins into its entries
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LoadClient reads the narrator configuration, honouring a .env file
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.VoiceServerURL = strings.TrimRight(cfg.VoiceServerURL, "/")
	if cfg.VoiceServerURL == "" {
		return nil, fmt.Errorf("VOICE_SERVER_URL is required")
	}
	if cfg.Transport != "http" && cfg.Transport != "ws" {
		return nil, fmt.Errorf("VOICE_TRANSPORT must be http or ws, got %q", cfg.Transport)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.PlaybackRate <= 0 {
		return nil, fmt.Errorf("PLAYBACK_RATE must be positive")
	}
	if err := validateBackend(cfg.SettingsBackend, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PollEvery returns the telemetry poll interval
func (c *ClientConfig) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// StallAfter returns the stall timeout, zero when disabled
func (c *ClientConfig) StallAfter() time.Duration {
	return time.Duration(c.StallTimeout) * time.Second
}

func validateBackend(backend, databaseURL string) error {
	switch backend {
	case "memory", "file":
		return nil
	case "postgres":
		if databaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SETTINGS_BACKEND=postgres")
		}
		return nil
	default:
		return fmt.Errorf("unknown SETTINGS_BACKEND %q", backend)
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
