// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultServerAddr     = ":8080"
	defaultSessionsDBPath = "data/sessions.db"
	defaultRealtimeURL    = "wss://api.openai.com/v1/realtime"
	defaultModel          = "gpt-4o-realtime-preview-2024-12-17"
	defaultVoice          = "ash"
	defaultPrompt         = "You are a helpful AI assistant. Be concise and friendly in your responses."
)

// DefaultVoices is the voice catalogue offered when REALTIME_VOICES is unset.
var DefaultVoices = []string{"ash", "ballad", "coral", "sage", "verse"}

// Config holds all application configuration.
type Config struct {
	// ServerAddr is the HTTP listen address (e.g., :80, :8080).
	ServerAddr string
	// StaticDir is the directory for serving the dashboard bundle.
	StaticDir string
	// SessionsDBPath is the SQLite file holding saved session snapshots.
	SessionsDBPath string
	// PricingFile is an optional YAML/JSON rate table, watched for changes.
	PricingFile string
	// CaptureDir receives one NDJSON file of raw events per session when set.
	CaptureDir string
	// CORSAllowedOrigins lists browser origins allowed to call the API.
	CORSAllowedOrigins []string
	Realtime           RealtimeConfig
	// EventQueueSize bounds events waiting for the session consumer loop.
	EventQueueSize int
	// EventLogCapacity bounds the raw event log.
	EventLogCapacity int
}

// RealtimeConfig holds the upstream connection settings and session defaults.
type RealtimeConfig struct {
	URL string
	// APIKey is used when a start request carries no credential.
	APIKey         string
	DefaultModel   string
	DefaultVoice   string
	DefaultPrompt  string
	Voices         []string
	ConnectTimeout time.Duration
}

// Load reads configuration from environment variables.
// It loads .env file if present, but environment variables take precedence.
func Load() (*Config, error) {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddr:         strings.TrimSpace(os.Getenv("SERVER_ADDR")),
		StaticDir:          os.Getenv("STATIC_DIR"),
		SessionsDBPath:     strings.TrimSpace(os.Getenv("SESSIONS_DB_PATH")),
		PricingFile:        strings.TrimSpace(os.Getenv("PRICING_FILE")),
		CaptureDir:         strings.TrimSpace(os.Getenv("CAPTURE_DIR")),
		CORSAllowedOrigins: parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Realtime: RealtimeConfig{
			URL:           strings.TrimSpace(os.Getenv("REALTIME_URL")),
			APIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			DefaultModel:  strings.TrimSpace(os.Getenv("REALTIME_DEFAULT_MODEL")),
			DefaultVoice:  strings.TrimSpace(os.Getenv("REALTIME_DEFAULT_VOICE")),
			DefaultPrompt: os.Getenv("REALTIME_DEFAULT_PROMPT"),
			Voices:        parseCSV(os.Getenv("REALTIME_VOICES")),
		},
	}
	cfg.Realtime.ConnectTimeout = parseDurationEnv("CONNECT_TIMEOUT", 15*time.Second)
	cfg.EventQueueSize = parseIntEnv("EVENT_QUEUE_SIZE", 256)
	cfg.EventLogCapacity = parseIntEnv("EVENT_LOG_CAPACITY", 50)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fills defaults and rejects values that cannot work.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		c.ServerAddr = defaultServerAddr
	}
	if c.SessionsDBPath == "" {
		c.SessionsDBPath = defaultSessionsDBPath
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
	if c.Realtime.URL == "" {
		c.Realtime.URL = defaultRealtimeURL
	}
	u, err := url.Parse(c.Realtime.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("REALTIME_URL must be a ws:// or wss:// URL, got %q", c.Realtime.URL)
	}
	if c.Realtime.DefaultModel == "" {
		c.Realtime.DefaultModel = defaultModel
	}
	if len(c.Realtime.Voices) == 0 {
		c.Realtime.Voices = append([]string(nil), DefaultVoices...)
	}
	if c.Realtime.DefaultVoice == "" {
		c.Realtime.DefaultVoice = defaultVoice
	}
	if !c.Realtime.HasVoice(c.Realtime.DefaultVoice) {
		return fmt.Errorf("REALTIME_DEFAULT_VOICE %q is not in the voice list", c.Realtime.DefaultVoice)
	}
	if strings.TrimSpace(c.Realtime.DefaultPrompt) == "" {
		c.Realtime.DefaultPrompt = defaultPrompt
	}
	if c.Realtime.ConnectTimeout <= 0 {
		c.Realtime.ConnectTimeout = 15 * time.Second
	}
	// OPENAI_API_KEY is optional - start requests must then carry a credential
	return nil
}

// HasVoice reports whether voice is in the catalogue.
func (r RealtimeConfig) HasVoice(voice string) bool {
	for _, v := range r.Voices {
		if v == voice {
			return true
		}
	}
	return false
}

func parseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}
