package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sentinel-antispam/internal/rules"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken              string           `yaml:"discord_token"`
	DatabaseURL               string           `yaml:"database_url"`
	LogLevel                  string           `yaml:"log_level"`
	DefaultSecurityLogChannel string           `yaml:"default_security_log_channel"`
	RetentionDays             int              `yaml:"retention_days"`
	RulePreset                string           `yaml:"rule_preset"`
	Health                    HealthConfig     `yaml:"health"`
	AntiSpam                  AntiSpamConfig   `yaml:"antispam"`
	Breaker                   BreakerConfig    `yaml:"breaker"`
	Rules                     rules.RuleConfig `yaml:"rules"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AntiSpamConfig struct {
	EnableByDefault       bool `yaml:"enable_by_default"`
	ActionTimeoutSeconds  int  `yaml:"action_timeout_seconds"`
	DecayHours            int  `yaml:"decay_hours"`
	DecayIntervalMinutes  int  `yaml:"decay_interval_minutes"`
	AuditBuffer           int  `yaml:"audit_buffer"`
	AuditChannelPerMinute int  `yaml:"audit_channel_per_minute"`
	ConfigCacheSeconds    int  `yaml:"config_cache_seconds"`
}

func (c AntiSpamConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

func (c AntiSpamConfig) DecayAfter() time.Duration {
	return time.Duration(c.DecayHours) * time.Hour
}

func (c AntiSpamConfig) DecayInterval() time.Duration {
	return time.Duration(c.DecayIntervalMinutes) * time.Minute
}

func (c AntiSpamConfig) ConfigCacheTTL() time.Duration {
	return time.Duration(c.ConfigCacheSeconds) * time.Second
}

type BreakerConfig struct {
	MaxRequests     uint32  `yaml:"max_requests"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	FailureRatio    float64 `yaml:"failure_ratio"`
	MinRequests     uint32  `yaml:"min_requests"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:               "/data/sentinel.db",
		LogLevel:                  "info",
		RetentionDays:             14,
		RulePreset:                "",
		DefaultSecurityLogChannel: "",
		Health:                    HealthConfig{Enabled: false, Addr: ":8080"},
		AntiSpam: AntiSpamConfig{
			EnableByDefault:       false,
			ActionTimeoutSeconds:  5,
			DecayHours:            24,
			DecayIntervalMinutes:  10,
			AuditBuffer:           256,
			AuditChannelPerMinute: 20,
			ConfigCacheSeconds:    30,
		},
		Breaker: BreakerConfig{
			MaxRequests:     1,
			IntervalSeconds: 60,
			TimeoutSeconds:  30,
			FailureRatio:    0.6,
			MinRequests:     5,
		},
		Rules: rules.Default(),
	}
}

// Load builds the config from defaults, then config.yaml, then .env and the
// process environment.
func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFile)

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	// an explicit preset overrides the thresholds of the rules block
	if cfg.RulePreset != "" {
		cfg.RulePreset = rules.NormalizePreset(cfg.RulePreset)
		rules.ApplyPreset(&cfg.Rules, cfg.RulePreset)
	}
	if cfg.Rules.LogChannelID == "" {
		cfg.Rules.LogChannelID = cfg.DefaultSecurityLogChannel
	}
	if err := cfg.Rules.Validate(); err != nil {
		return Config{}, fmt.Errorf("default rules: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultSecurityLogChannel = envString("DEFAULT_SECURITY_LOG_CHANNEL", cfg.DefaultSecurityLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.AntiSpam.EnableByDefault = envBool("ANTISPAM_ENABLE_BY_DEFAULT", cfg.AntiSpam.EnableByDefault)
	cfg.AntiSpam.ActionTimeoutSeconds = envInt("ANTISPAM_ACTION_TIMEOUT_SECONDS", cfg.AntiSpam.ActionTimeoutSeconds)
	cfg.AntiSpam.DecayHours = envInt("ANTISPAM_DECAY_HOURS", cfg.AntiSpam.DecayHours)
	cfg.AntiSpam.DecayIntervalMinutes = envInt("ANTISPAM_DECAY_INTERVAL_MINUTES", cfg.AntiSpam.DecayIntervalMinutes)
	cfg.AntiSpam.AuditBuffer = envInt("ANTISPAM_AUDIT_BUFFER", cfg.AntiSpam.AuditBuffer)
	cfg.AntiSpam.AuditChannelPerMinute = envInt("ANTISPAM_AUDIT_CHANNEL_PER_MINUTE", cfg.AntiSpam.AuditChannelPerMinute)
	cfg.AntiSpam.ConfigCacheSeconds = envInt("ANTISPAM_CONFIG_CACHE_SECONDS", cfg.AntiSpam.ConfigCacheSeconds)
	cfg.Breaker.TimeoutSeconds = envInt("BREAKER_TIMEOUT_SECONDS", cfg.Breaker.TimeoutSeconds)
	cfg.Rules.MuteDurationSeconds = envInt("MUTE_DURATION_SECONDS", cfg.Rules.MuteDurationSeconds)
	cfg.Rules.DeleteOffendingMessage = envBool("DELETE_OFFENDING_MESSAGE", cfg.Rules.DeleteOffendingMessage)
	cfg.Rules.NotifyUser = envBool("NOTIFY_USER", cfg.Rules.NotifyUser)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
