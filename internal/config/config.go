package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"hotel-rate-shadow/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Supplier    SupplierConfig    `mapstructure:"supplier"`
	Shadowing   ShadowingConfig   `mapstructure:"shadowing"`
	Affiliate   AffiliateConfig   `mapstructure:"affiliate"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// SchedulerConfig governs sweep cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// CacheConfig controls reference price expiry and change alerts.
type CacheConfig struct {
	TTL               time.Duration `mapstructure:"ttl"`
	AlertThresholdPct float64       `mapstructure:"alert_threshold_pct"`
}

// CollectorConfig describes the scheduled sweep plan.
type CollectorConfig struct {
	Destinations []string `mapstructure:"destinations"`
	OffsetsDays  []int    `mapstructure:"offsets_days"`
	Nights       int      `mapstructure:"nights"`
	Concurrency  int      `mapstructure:"concurrency"`
}

// MarketplaceConfig points at the scraping sidecar that returns lowest prices.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Provenance     string        `mapstructure:"provenance"`
}

// SupplierConfig captures the affiliate supplier REST API.
type SupplierConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ShadowingConfig tunes the engine.
type ShadowingConfig struct {
	OnDemandTimeout time.Duration `mapstructure:"on_demand_timeout"`
	OnDemandCollect bool          `mapstructure:"on_demand_collect"`
}

// AffiliateConfig holds click attribution parameters.
type AffiliateConfig struct {
	PartnerID string `mapstructure:"partner_id"`
	Secret    string `mapstructure:"secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// AlertingConfig defines notifier routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	QueueSize int            `mapstructure:"queue_size"`
	Timeout   time.Duration  `mapstructure:"timeout"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig describes a Slack/Discord/generic webhook channel.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Type    string `mapstructure:"type"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATESHADOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rateshadow")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72736877))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.alert_threshold_pct", 5.0)

	v.SetDefault("collector.destinations", []string{})
	v.SetDefault("collector.offsets_days", []int{1, 3, 7, 14, 30})
	v.SetDefault("collector.nights", 1)
	v.SetDefault("collector.concurrency", 4)

	v.SetDefault("marketplace.request_timeout", "10s")
	v.SetDefault("marketplace.provenance", "marketplace")

	v.SetDefault("supplier.request_timeout", "10s")

	v.SetDefault("shadowing.on_demand_timeout", "3s")
	v.SetDefault("shadowing.on_demand_collect", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.queue_size", 64)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.type", "")

	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Cache.AlertThresholdPct < 0 {
		return fmt.Errorf("cache.alert_threshold_pct cannot be negative")
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("collector.concurrency must be greater than zero")
	}
	if c.Collector.Nights <= 0 {
		return fmt.Errorf("collector.nights must be greater than zero")
	}
	for _, offset := range c.Collector.OffsetsDays {
		if offset < 0 {
			return fmt.Errorf("collector.offsets_days cannot contain negative offsets (%d)", offset)
		}
	}
	if c.Shadowing.OnDemandTimeout <= 0 {
		return fmt.Errorf("shadowing.on_demand_timeout must be greater than zero")
	}
	if c.Affiliate.BaseURL != "" && strings.TrimSpace(c.Affiliate.Secret) == "" {
		return fmt.Errorf("affiliate.secret is required when affiliate.base_url is set")
	}
	if c.Alerting.QueueSize <= 0 {
		return fmt.Errorf("alerting.queue_size must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// NormalizedDestinations returns upper-cased destination codes without blanks.
func (c *Config) NormalizedDestinations() []string {
	out := make([]string, 0, len(c.Collector.Destinations))
	for _, d := range c.Collector.Destinations {
		d = strings.ToUpper(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
