// Package config loads the scanner configuration: a YAML file, struct
// defaults, environment overrides and validation, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"leverage-scanner/internal/exchange"
	"leverage-scanner/internal/execution"
	"leverage-scanner/internal/feed"
	"leverage-scanner/internal/indicator"
	"leverage-scanner/internal/logger"
	"leverage-scanner/internal/notification"
	"leverage-scanner/internal/scanner"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	Exchange   exchange.Config      `yaml:"exchange"`
	Universe   feed.UniverseConfig  `yaml:"universe"`
	Scanner    scanner.Config       `yaml:"scanner"`
	Indicators indicator.Config     `yaml:"indicators"`
	Trading    execution.Config     `yaml:"trading"`
	Notify     NotifyConfig         `yaml:"notify"`
	Redis      RedisConfig          `yaml:"redis"`
	SQLite     SQLiteConfig         `yaml:"sqlite"`
	Metrics    MetricsConfig        `yaml:"metrics"`
	Gateway    GatewayConfig        `yaml:"gateway"`
	Creds      exchange.Credentials `yaml:"-"` // env only

	// Disabled makes the binary exit right after startup (BOT_DISABLED).
	Disabled bool `yaml:"-"`
}

// NotifyConfig selects the alert backend. Telegram wins over the webhook;
// with neither set alerts go to the log.
type NotifyConfig struct {
	notification.SinkConfig `yaml:",inline"`

	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"-"`
	WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"-"`
	DB           int           `yaml:"db" validate:"gte=0"`
	MaxFailures  int           `yaml:"max_failures" default:"5" validate:"gte=1"`
	ResetTimeout time.Duration `yaml:"reset_timeout" default:"30s" validate:"gt=0"`
	BufferSize   int           `yaml:"buffer_size" default:"10000" validate:"gte=1"`
}

type SQLiteConfig struct {
	Path      string `yaml:"path" default:"data/signals.db" validate:"required"`
	QueueSize int    `yaml:"queue_size" default:"1024" validate:"gte=1"`
}

type MetricsConfig struct {
	Addr             string        `yaml:"addr" default:":9090" validate:"required"`
	LivenessInterval time.Duration `yaml:"liveness_interval" default:"30s" validate:"gt=0"`
	StaleAfter       time.Duration `yaml:"stale_after" default:"20m"`
}

type GatewayConfig struct {
	ReplaySize int `yaml:"replay_size" default:"100" validate:"gte=0,lte=10000"`
}

var validate = validator.New()

// Load reads path (optional; "" means defaults only), applies defaults,
// overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// applyEnv overrides file values with the environment. Secrets only come
// from here.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("BLOFIN_API_KEY", &c.Creds.APIKey)
	str("BLOFIN_SECRET_KEY", &c.Creds.SecretKey)
	str("BLOFIN_PASSPHRASE", &c.Creds.Passphrase)

	str("TELEGRAM_BOT_TOKEN", &c.Notify.TelegramToken)
	str("TELEGRAM_TOKEN", &c.Notify.TelegramToken)
	str("TELEGRAM_CHAT_ID", &c.Notify.TelegramChatID)
	str("WEBHOOK_URL", &c.Notify.WebhookURL)

	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("SQLITE_PATH", &c.SQLite.Path)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("BOT_DISABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BOT_DISABLED: %w", err)
		}
		c.Disabled = b
	}
	return nil
}

// Validate checks the rules that span fields.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Scanner.MinCandles > c.Scanner.CandleLimit {
		return fmt.Errorf("scanner.min_candles (%d) exceeds scanner.candle_limit (%d)",
			c.Scanner.MinCandles, c.Scanner.CandleLimit)
	}
	if c.Scanner.MaxSignalAge < 0 {
		return errors.New("scanner.max_signal_age must not be negative")
	}
	if c.Trading.Enabled && !c.Creds.Complete() {
		return errors.New("trading.enabled requires BLOFIN_API_KEY, BLOFIN_SECRET_KEY and BLOFIN_PASSPHRASE")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		return errors.New("telegram needs both TELEGRAM_TOKEN and TELEGRAM_CHAT_ID")
	}
	return nil
}

// Notifier builds the configured alert backend.
func (c *Config) Notifier() notification.Notifier {
	switch {
	case c.Notify.TelegramToken != "":
		return notification.NewTelegramNotifier(c.Notify.TelegramToken, c.Notify.TelegramChatID)
	case c.Notify.WebhookURL != "":
		return notification.NewWebhookNotifier(c.Notify.WebhookURL)
	default:
		return notification.NewLogNotifier()
	}
}
