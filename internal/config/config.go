// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`     // admin bearer tokens; empty disables the guard
	InternalToken string `yaml:"internal_token"` // storefront -> vault shared token; empty disables
}

type AlertConfig struct {
	TelegramToken string  `yaml:"telegram_token"`
	ChatIDs       []int64 `yaml:"chat_ids"`
}

type StockConfig struct {
	Interval          time.Duration `yaml:"interval"`
	LowStockThreshold int           `yaml:"low_stock_threshold"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Auth     AuthConfig     `yaml:"auth"`
	Alert    AlertConfig    `yaml:"alert"`
	Stock    StockConfig    `yaml:"stock"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Environment variables that override the YAML file. Secrets are expected to
// arrive this way rather than in the file.
const (
	EnvDatabaseURL   = "CODEVAULT_DATABASE_URL"
	EnvEncryptionKey = "CODEVAULT_ENCRYPTION_KEY"
	EnvJWTSecret     = "CODEVAULT_ADMIN_JWT_SECRET"
	EnvInternalToken = "CODEVAULT_INTERNAL_TOKEN"
	EnvTelegramToken = "CODEVAULT_TELEGRAM_TOKEN"
	EnvAlertChatIDs  = "CODEVAULT_ALERT_CHAT_IDS"
	EnvRedisURL      = "CODEVAULT_REDIS_URL"
)

// LoadConfig reads the YAML file at path (a missing file is fine in dev
// mode), loads a .env file if present, applies environment overrides and
// defaults, and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Database.URL, EnvDatabaseURL)
	setStr(&cfg.Security.EncryptionKey, EnvEncryptionKey)
	setStr(&cfg.Auth.JWTSecret, EnvJWTSecret)
	setStr(&cfg.Auth.InternalToken, EnvInternalToken)
	setStr(&cfg.Alert.TelegramToken, EnvTelegramToken)
	setStr(&cfg.Redis.URL, EnvRedisURL)

	if v := strings.TrimSpace(os.Getenv(EnvAlertChatIDs)); v != "" {
		ids, err := parseChatIDs(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAlertChatIDs, err)
		}
		cfg.Alert.ChatIDs = ids
	}
	return nil
}

func parseChatIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Stock.Interval <= 0 {
		cfg.Stock.Interval = 5 * time.Minute
	}
	if cfg.Stock.LowStockThreshold < 0 {
		cfg.Stock.LowStockThreshold = 0
	}
}

const minSecretLen = 32

// Validate checks the settings the service cannot start without. Outside dev
// mode both API credentials are mandatory.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.EncryptionKey) == "" {
		return errors.New("security.encryption_key is required")
	}
	if c.Database.URL == "" && !c.Runtime.Dev {
		return errors.New("database.url is required")
	}
	if !c.Runtime.Dev {
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required")
		}
		if c.Auth.InternalToken == "" {
			return errors.New("auth.internal_token is required")
		}
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters long", minSecretLen)
	}
	if c.Auth.InternalToken != "" && len(c.Auth.InternalToken) < minSecretLen {
		return fmt.Errorf("auth.internal_token must be at least %d characters long", minSecretLen)
	}
	if c.Alert.TelegramToken != "" && len(c.Alert.ChatIDs) == 0 {
		return errors.New("alert.chat_ids is required when alert.telegram_token is set")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
