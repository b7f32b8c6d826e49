package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	Secret      string `mapstructure:"secret"`
	SessionName string `mapstructure:"session_name"`

	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	SignalRate      float64       `mapstructure:"signal_rate"`
	SignalBurst     int           `mapstructure:"signal_burst"`

	WaitingDedupWindow time.Duration `mapstructure:"waiting_dedup_window"`
	CleanupTimeout     time.Duration `mapstructure:"cleanup_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`

	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Voice    Voice    `mapstructure:"voice"`
}

type Database struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Voice struct {
	AccessKey  string        `mapstructure:"access_key"`
	Secret     string        `mapstructure:"secret"`
	TemplateID string        `mapstructure:"template_id"`
	BaseURL    string        `mapstructure:"base_url"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

const devSecret = "squadlink-dev-secret-change-me-0000"

func (c *Config) Debug() bool { return c.Mode == "debug" }

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Mode != "debug" && c.Mode != "release" && c.Mode != "test" {
		errs = append(errs, fmt.Errorf("mode must be debug, release or test, got %q", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if len(c.Secret) < 32 {
		errs = append(errs, errors.New("secret must be at least 32 bytes"))
	}
	if c.LivenessTimeout <= c.PingPeriod {
		errs = append(errs, fmt.Errorf("liveness_timeout (%s) must exceed ping_period (%s)", c.LivenessTimeout, c.PingPeriod))
	}
	if c.WaitingDedupWindow < 0 {
		errs = append(errs, fmt.Errorf("waiting_dedup_window must not be negative, got %s", c.WaitingDedupWindow))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "")
	v.SetDefault("session_name", "squadlink")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("liveness_timeout", "40s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("signal_rate", 20)
	v.SetDefault("signal_burst", 40)
	v.SetDefault("waiting_dedup_window", "5m")
	v.SetDefault("cleanup_timeout", "10s")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "squadlink")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("voice.access_key", "")
	v.SetDefault("voice.secret", "")
	v.SetDefault("voice.template_id", "")
	v.SetDefault("voice.base_url", "https://api.100ms.live/v2")
	v.SetDefault("voice.token_ttl", "24h")
	v.SetDefault("voice.timeout", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). Every key can
// be overridden from the environment as SQUADLINK_<KEY>, nested keys joined
// with an underscore (SQUADLINK_VOICE_ACCESS_KEY).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("SQUADLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.AllowedOrigins) == 1 && strings.Contains(cfg.AllowedOrigins[0], ",") {
		cfg.AllowedOrigins = strings.Split(cfg.AllowedOrigins[0], ",")
	}
	if cfg.Secret == "" && cfg.Mode == "debug" {
		cfg.Secret = devSecret
		log.Warn().Str("module", "config").Msg("using built-in dev secret")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("db", cfg.Database.Driver).
		Bool("voice", cfg.Voice.AccessKey != "" && cfg.Voice.Secret != "").
		Msg("config ready")
	return &cfg, nil
}
