package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account is the keychain account consulted when a secret is not set
	// in the environment.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DASHBOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DASHBOT_API_TOKEN",
		secret: true, account: accountAPIToken,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.backend", typ: kString, env: "DASHBOT_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DASHBOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "DASHBOT_POSTGRES_DSN",
		secret: true, account: accountPostgresDSN,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "storage.table", typ: kString, env: "DASHBOT_STORAGE_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Storage.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Table },
	},
	{
		key: "storage.timeout", typ: kDuration, env: "DASHBOT_STORAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Storage.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Storage.Timeout },
	},
	{
		key: "oracle.provider", typ: kString, env: "DASHBOT_ORACLE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Provider },
	},
	{
		key: "oracle.model", typ: kString, env: "DASHBOT_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.base_url", typ: kString, env: "DASHBOT_ORACLE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.BaseURL },
	},
	{
		key: "oracle.timeout", typ: kDuration, env: "DASHBOT_ORACLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Oracle.Timeout },
	},
	{
		key: "oracle.api_key", typ: kString, env: "DASHBOT_ORACLE_API_KEY",
		secret: true, account: accountOracleAPIKey,
		apply:   func(cfg *Config, v any) { cfg.Oracle.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.APIKey },
	},
	{
		key: "engine.confidence_threshold", typ: kFloat, env: "DASHBOT_ENGINE_CONFIDENCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Engine.ConfidenceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.ConfidenceThreshold },
	},
	{
		key: "engine.timezone", typ: kString, env: "DASHBOT_ENGINE_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Engine.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Timezone },
	},
	{
		key: "engine.candidate_limit", typ: kInt, env: "DASHBOT_ENGINE_CANDIDATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Engine.CandidateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.CandidateLimit },
	},
	{
		key: "reminders.enabled", typ: kBool, env: "DASHBOT_REMINDERS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Reminders.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Reminders.Enabled },
	},
	{
		key: "reminders.interval", typ: kDuration, env: "DASHBOT_REMINDERS_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Reminders.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.Interval },
	},
	{
		key: "reminders.initial_delay", typ: kDuration, env: "DASHBOT_REMINDERS_INITIAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Reminders.InitialDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.InitialDelay },
	},
	{
		key: "reminders.claim_ttl", typ: kDuration, env: "DASHBOT_REMINDERS_CLAIM_TTL",
		apply:   func(cfg *Config, v any) { cfg.Reminders.ClaimTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reminders.ClaimTTL },
	},
	{
		key: "telegram.bot_token", typ: kString, env: "DASHBOT_TELEGRAM_BOT_TOKEN",
		secret: true, account: accountTelegramToken,
		apply:   func(cfg *Config, v any) { cfg.Telegram.BotToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BotToken },
	},
	{
		key: "telegram.base_url", typ: kString, env: "DASHBOT_TELEGRAM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Telegram.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.BaseURL },
	},
	{
		key: "log.level", typ: kString, env: "DASHBOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text to the key's type.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets that the environment left empty from the
// platform keychain.
func applySecrets(cfg *Config, kc Keychain) {
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := kc.Get(s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
