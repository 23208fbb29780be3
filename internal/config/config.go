package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Storage backends understood by kv.Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendPgx      = "pgx"
	BackendRedis    = "redis"
)

// Chat providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Scheduler modes. ModeParity re-fires due reminders on every poll, ModeTracked
// records the last firing and fires each reminder once.
const (
	ModeTracked = "tracked"
	ModeParity  = "parity"
)

// Trigger modes for the creation-time notification.
const (
	TriggerParity  = "parity"
	TriggerUnified = "unified"
)

// envPrefix marks variables that map onto nested config keys,
// e.g. MEDIMATE_SCHEDULER__INTERVAL -> scheduler.interval.
const envPrefix = "MEDIMATE_"

// Config stores runtime configuration loaded from defaults, an optional YAML
// file and environment variables.
type Config struct {
	Port      string          `koanf:"port"`
	Timezone  string          `koanf:"timezone"`
	Log       LogConfig       `koanf:"log"`
	Storage   StorageConfig   `koanf:"storage"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Notify    NotifyConfig    `koanf:"notify"`
	Twilio    TwilioConfig    `koanf:"twilio"`
	Chat      ChatConfig      `koanf:"chat"`
	Speech    SpeechConfig    `koanf:"speech"`

	LocalTimezone *time.Location `koanf:"-"`
	// Warnings lists tolerated problems found while loading, for the caller to log.
	Warnings []string `koanf:"-"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type StorageConfig struct {
	Backend     string `koanf:"backend"`
	SQLitePath  string `koanf:"sqlite_path"`
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`
	RedisPrefix string `koanf:"redis_prefix"`
}

type SchedulerConfig struct {
	Interval int    `koanf:"interval"` // seconds
	Mode     string `koanf:"mode"`
}

type NotifyConfig struct {
	TriggerMode   string  `koanf:"trigger_mode"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
	Recipient     string  `koanf:"recipient"`
}

type TwilioConfig struct {
	AccountSID     string `koanf:"account_sid"`
	AuthToken      string `koanf:"auth_token"`
	WhatsAppNumber string `koanf:"whatsapp_number"`
}

type ChatConfig struct {
	Provider     string `koanf:"provider"`
	GeminiAPIKey string `koanf:"gemini_api_key"`
	GeminiURL    string `koanf:"gemini_url"`
	GeminiModel  string `koanf:"gemini_model"`
	OpenAIAPIKey string `koanf:"openai_api_key"`
	Timeout      int    `koanf:"timeout"` // seconds
}

type SpeechConfig struct {
	APIKey       string `koanf:"api_key"`
	URL          string `koanf:"url"`
	Encoding     string `koanf:"encoding"`
	SampleRate   int    `koanf:"sample_rate"`
	LanguageCode string `koanf:"language_code"`
}

// PollInterval returns the scheduler interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.Interval) * time.Second
}

// ChatTimeout returns the timeout applied to chat and speech calls.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.Timeout) * time.Second
}

// Load reads configuration values and prepares defaults where applicable.
// configPath may be empty, in which case MEDIMATE_CONFIG is consulted.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv("MEDIMATE_CONFIG")
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	warnings := applyWellKnownEnv(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Warnings = warnings

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid timezone %q, defaulting to system local: %v", cfg.Timezone, err))
		location = time.Local
	}
	cfg.LocalTimezone = location

	// When no backend is named, a database URL selects PostgreSQL, otherwise SQLite is used.
	if cfg.Storage.Backend == "" {
		if cfg.Storage.DatabaseURL != "" {
			cfg.Storage.Backend = BackendPostgres
		} else {
			cfg.Storage.Backend = BackendSQLite
		}
	}

	return &cfg, nil
}

// applyWellKnownEnv maps the plain variable names used by deployments onto
// config keys. They take precedence over everything else.
func applyWellKnownEnv(k *koanf.Koanf) []string {
	var warnings []string
	overrides := map[string]string{
		"PORT":                   "port",
		"LOCAL_TIMEZONE":         "timezone",
		"LOG_LEVEL":              "log.level",
		"DATABASE_URL":           "storage.database_url",
		"REDIS_URL":              "storage.redis_url",
		"TWILIO_ACCOUNT_SID":     "twilio.account_sid",
		"TWILIO_AUTH_TOKEN":      "twilio.auth_token",
		"TWILIO_WHATSAPP_NUMBER": "twilio.whatsapp_number",
		"NOTIFY_RECIPIENT":       "notify.recipient",
		"OPENAI_API_KEY":         "chat.openai_api_key",
		"GEMINI_API_KEY":         "chat.gemini_api_key",
		"SPEECH_API_KEY":         "speech.api_key",
	}
	for envKey, path := range overrides {
		if value := os.Getenv(envKey); value != "" {
			_ = k.Set(path, value)
		}
	}
	if value := os.Getenv("POLL_INTERVAL_SECONDS"); value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unable to parse POLL_INTERVAL_SECONDS=%q as int: %v", value, err))
		} else {
			_ = k.Set("scheduler.interval", seconds)
		}
	}
	return warnings
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres, BackendPgx:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage backend %q requires a database URL", c.Storage.Backend)
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage backend %q requires a redis URL", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	switch c.Chat.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown chat provider: %s (supported: %s, %s)", c.Chat.Provider, ProviderGemini, ProviderOpenAI)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %d", c.Scheduler.Interval)
	}
	if c.Scheduler.Mode != ModeTracked && c.Scheduler.Mode != ModeParity {
		return fmt.Errorf("unknown scheduler mode: %s", c.Scheduler.Mode)
	}
	if c.Notify.TriggerMode != TriggerParity && c.Notify.TriggerMode != TriggerUnified {
		return fmt.Errorf("unknown trigger mode: %s", c.Notify.TriggerMode)
	}
	if c.Notify.RatePerSecond <= 0 {
		return fmt.Errorf("notify rate must be positive")
	}
	return nil
}
