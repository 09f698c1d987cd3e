package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/dashbot/internal/pipeline"
	"github.com/kalambet/dashbot/internal/reminder"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Oracle    OracleConfig
	Engine    EngineConfig
	Reminders RemindersConfig
	Telegram  TelegramConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	Backend     string
	DataDir     string
	PostgresDSN string
	Table       string
	Timeout     time.Duration
}

type OracleConfig struct {
	Provider string
	// Model and BaseURL fall back to the provider's defaults when empty.
	Model   string
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

type EngineConfig struct {
	ConfidenceThreshold float64
	Timezone            string
	CandidateLimit      int
}

type RemindersConfig struct {
	Enabled      bool
	Interval     time.Duration
	InitialDelay time.Duration
	ClaimTTL     time.Duration
}

type TelegramConfig struct {
	BotToken string
	BaseURL  string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: defaultDataDir(),
			Table:   "dashboard_entries",
			Timeout: 10 * time.Second,
		},
		Oracle: OracleConfig{
			Provider: ProviderAnthropic,
			Timeout:  30 * time.Second,
		},
		Engine: EngineConfig{
			ConfidenceThreshold: pipeline.DefaultConfidenceThreshold,
			Timezone:            "Local",
			CandidateLimit:      pipeline.DefaultCandidateLimit,
		},
		Reminders: RemindersConfig{
			Enabled:      true,
			Interval:     reminder.DefaultInterval,
			InitialDelay: reminder.DefaultInitialDelay,
			ClaimTTL:     reminder.DefaultClaimTTL,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.dashbot.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/dashbot/config.json
// and secrets fall back to $XDG_DATA_HOME/dashbot/secrets.json.
//
// Environment variables (DASHBOT_*) override backend values on all platforms.
// Load does not require secrets; callers that need them use RequireSecrets.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendSQLite, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendSQLite, BackendPostgres, c.Storage.Backend))
	}
	switch c.Oracle.Provider {
	case ProviderAnthropic, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("oracle.provider must be %q or %q, got %q", ProviderAnthropic, ProviderOllama, c.Oracle.Provider))
	}
	if c.Engine.ConfidenceThreshold <= 0 || c.Engine.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.confidence_threshold must be in (0, 1], got %v", c.Engine.ConfidenceThreshold))
	}
	if c.Engine.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("engine.candidate_limit must be positive, got %d", c.Engine.CandidateLimit))
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// RequireSecrets reports the secrets the configured backends cannot run
// without.
func (c Config) RequireSecrets() error {
	if c.Oracle.Provider == ProviderAnthropic && c.Oracle.APIKey == "" {
		return fmt.Errorf("missing required config: Anthropic API key. "+
			"Set it via environment variable DASHBOT_ORACLE_API_KEY%s", secretHint(accountOracleAPIKey))
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("missing required config: Postgres DSN. "+
			"Set it via environment variable DASHBOT_POSTGRES_DSN%s", secretHint(accountPostgresDSN))
	}
	return nil
}

// Location returns the engine timezone. It was validated by Load.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// EngineSettings returns the immutable settings shared by the message
// pipeline components.
func (c Config) EngineSettings() pipeline.Settings {
	return pipeline.Settings{
		ConfidenceThreshold: c.Engine.ConfidenceThreshold,
		Location:            c.Location(),
		CandidateLimit:      c.Engine.CandidateLimit,
		StoreTimeout:        c.Storage.Timeout,
	}
}

// ReminderSettings returns the scheduler configuration.
func (c Config) ReminderSettings() reminder.Config {
	return reminder.Config{
		Interval:     c.Reminders.Interval,
		InitialDelay: c.Reminders.InitialDelay,
		ClaimTTL:     c.Reminders.ClaimTTL,
		StoreTimeout: c.Storage.Timeout,
	}
}

// LogLevel maps log.level to a slog level. Unknown values mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
