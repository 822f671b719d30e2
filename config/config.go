package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/skyi28/ML-Trader/internal/indicator"
)

// Config holds all application configuration. Values come from defaults, an
// optional YAML file, then environment variables (highest precedence).
type Config struct {
	// Market data
	Instruments     []string
	Category        string // bybit product category, e.g. "inverse"
	ProviderURL     string
	ProviderWSURL   string
	ProviderTimeout time.Duration
	ProviderLimit   int
	TickInterval    time.Duration
	TickSource      string // "poll" or "ws"
	BarPublishDelay time.Duration

	// Continuity
	CatchUpLookback time.Duration
	SweepInterval   time.Duration

	// Execution
	TradingFee            float64
	ReadinessGrace        time.Duration
	ResetPositionsOnStart bool

	// Infrastructure
	StoreDriver   string // "sqlite" or "postgres"
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BadgerDir     string
	MetricsAddr   string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Notifications
	WebhookURL     string
	TelegramToken  string
	TelegramChatID int64

	Indicators []indicator.Spec
}

// Load reads configuration. path may be empty, in which case CONFIG_FILE is
// consulted and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path == "" {
		path = v.GetString("config_file")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("config read: %w", err)
			}
		}
	}

	cfg := &Config{
		Instruments:     splitList(v.Get("instruments")),
		Category:        v.GetString("category"),
		ProviderURL:     v.GetString("provider_url"),
		ProviderWSURL:   v.GetString("provider_ws_url"),
		ProviderTimeout: v.GetDuration("provider_timeout"),
		ProviderLimit:   v.GetInt("provider_limit"),
		TickInterval:    v.GetDuration("tick_interval"),
		TickSource:      strings.ToLower(v.GetString("tick_source")),
		BarPublishDelay: v.GetDuration("bar_publish_delay"),

		CatchUpLookback: v.GetDuration("catchup_lookback"),
		SweepInterval:   v.GetDuration("sweep_interval"),

		TradingFee:            v.GetFloat64("trading_fee"),
		ReadinessGrace:        v.GetDuration("readiness_grace"),
		ResetPositionsOnStart: v.GetBool("reset_positions_on_start"),

		StoreDriver:   strings.ToLower(v.GetString("store_driver")),
		SQLitePath:    v.GetString("sqlite_path"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		BadgerDir:     v.GetString("badger_dir"),
		MetricsAddr:   v.GetString("metrics_addr"),

		LogLevel:      v.GetString("log_level"),
		LogFile:       v.GetString("log_file"),
		LogMaxSizeMB:  v.GetInt("log_max_size_mb"),
		LogMaxBackups: v.GetInt("log_max_backups"),

		WebhookURL:     v.GetString("webhook_url"),
		TelegramToken:  v.GetString("telegram_token"),
		TelegramChatID: v.GetInt64("telegram_chat_id"),
	}

	if v.IsSet("indicators") {
		if err := v.UnmarshalKey("indicators", &cfg.Indicators); err != nil {
			return nil, fmt.Errorf("config indicators: %w", err)
		}
	}
	if len(cfg.Indicators) == 0 {
		cfg.Indicators = indicator.DefaultSpecs()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load for binaries: any error is fatal.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate checks values that would otherwise fail deep inside a loop.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return errors.New("config: at least one instrument is required")
	}
	if c.TradingFee < 0 || c.TradingFee >= 1 {
		return fmt.Errorf("config: trading_fee must be in [0,1), got %v", c.TradingFee)
	}
	if c.ProviderLimit <= 0 {
		return fmt.Errorf("config: provider_limit must be positive, got %d", c.ProviderLimit)
	}
	switch c.TickSource {
	case "poll", "ws":
	default:
		return fmt.Errorf("config: tick_source must be poll or ws, got %q", c.TickSource)
	}
	switch c.StoreDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("config: postgres_dsn is required when store_driver=postgres")
		}
	default:
		return fmt.Errorf("config: store_driver must be sqlite or postgres, got %q", c.StoreDriver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instruments", "BTCUSD")
	v.SetDefault("category", "inverse")
	v.SetDefault("provider_url", "https://api.bybit.com")
	v.SetDefault("provider_ws_url", "wss://stream.bybit.com/v5/public/inverse")
	v.SetDefault("provider_timeout", 10*time.Second)
	v.SetDefault("provider_limit", 1000)
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("tick_source", "poll")
	v.SetDefault("bar_publish_delay", 2*time.Second)

	v.SetDefault("catchup_lookback", 30*24*time.Hour)
	v.SetDefault("sweep_interval", time.Hour)

	v.SetDefault("trading_fee", 0.001)
	v.SetDefault("readiness_grace", 20*time.Second)
	v.SetDefault("reset_positions_on_start", true)

	v.SetDefault("store_driver", "sqlite")
	v.SetDefault("sqlite_path", "data/mltrader.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("badger_dir", "data/models")
	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 5)

	v.SetDefault("webhook_url", "")
	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_chat_id", 0)
	v.SetDefault("config_file", "")
}

// splitList accepts either a YAML list or a comma-separated string.
func splitList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			log.Printf("[config] skipping empty instrument entry")
			continue
		}
		out = append(out, p)
	}
	return out
}
