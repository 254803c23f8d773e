package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	VIX      VIXConfig      `mapstructure:"vix"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	WSEnabled bool   `mapstructure:"ws_enabled"`
}

// EngineConfig carries the tuned cutoffs for regime, danger and pin
// detection. These are operational knobs, not algorithm invariants; the
// defaults below match the SPX deployment.
type EngineConfig struct {
	Symbols  []string `mapstructure:"symbols"`
	Timezone string   `mapstructure:"timezone"`

	SessionStart string `mapstructure:"session_start"` // HH:MM venue time
	SessionEnd   string `mapstructure:"session_end"`

	// Absolute dollar-gamma threshold for POSITIVE/NEGATIVE vs NEUTRAL.
	NeutralGammaThreshold float64 `mapstructure:"neutral_gamma_threshold"`

	SpikeROCThreshold float64 `mapstructure:"spike_roc_threshold"` // 1-min
	BuildROCThreshold float64 `mapstructure:"build_roc_threshold"` // 5-min

	PinProximityPct    float64 `mapstructure:"pin_proximity_pct"`
	PinConfidenceFloor float64 `mapstructure:"pin_confidence_floor"`
	MagnetCount        int     `mapstructure:"magnet_count"`

	// Raw data older than this is treated as an upstream cache duplicate.
	FreshnessMaxAgeSec int `mapstructure:"freshness_max_age_sec"`

	HistoryRetentionHours int `mapstructure:"history_retention_hours"`
}

type BrokerConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type VIXConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

type DatabaseConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	TTLSec  int    `mapstructure:"ttl_sec"`
}

type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ServerURL string `mapstructure:"server_url"`
	Topic     string `mapstructure:"topic"`
	Priority  string `mapstructure:"priority"`
	Tags      string `mapstructure:"tags"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("engine.symbols", []string{"SPX"})
	v.SetDefault("engine.timezone", "America/New_York")
	v.SetDefault("engine.session_start", "09:30")
	v.SetDefault("engine.session_end", "16:00")
	v.SetDefault("engine.neutral_gamma_threshold", 1_000_000_000)
	v.SetDefault("engine.spike_roc_threshold", 50)
	v.SetDefault("engine.build_roc_threshold", 30)
	v.SetDefault("engine.pin_proximity_pct", 0.5)
	v.SetDefault("engine.pin_confidence_floor", 0.3)
	v.SetDefault("engine.magnet_count", 3)
	v.SetDefault("engine.freshness_max_age_sec", 2)
	v.SetDefault("engine.history_retention_hours", 8)
	v.SetDefault("broker.base_url", "https://sandbox.tradier.com")
	v.SetDefault("broker.timeout_sec", 15)
	v.SetDefault("broker.retry_count", 3)
	v.SetDefault("broker.retry_delay_sec", 1)
	v.SetDefault("broker.rate_per_second", 2)
	v.SetDefault("vix.symbols", []string{"VIX", "VIX.X"})
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.table_prefix", "gex_")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl_sec", 300)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server_url", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "chart_with_upwards_trend")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("GEXFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("broker.api_key", "GEXFLOW_BROKER_API_KEY")
	_ = v.BindEnv("database.dsn", "GEXFLOW_DATABASE_DSN")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Engine.NeutralGammaThreshold <= 0 {
		return fmt.Errorf("neutral_gamma_threshold must be > 0")
	}
	if c.Engine.SpikeROCThreshold <= 0 || c.Engine.BuildROCThreshold <= 0 {
		return fmt.Errorf("danger-zone thresholds must be > 0")
	}
	if c.Engine.MagnetCount < 1 {
		return fmt.Errorf("magnet_count must be >= 1")
	}
	if c.Engine.FreshnessMaxAgeSec < 1 {
		return fmt.Errorf("freshness_max_age_sec must be >= 1")
	}
	if _, err := parseClock(c.Engine.SessionStart); err != nil {
		return fmt.Errorf("session_start: %w", err)
	}
	if _, err := parseClock(c.Engine.SessionEnd); err != nil {
		return fmt.Errorf("session_end: %w", err)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database is enabled (set GEXFLOW_DATABASE_DSN)")
	}
	return nil
}

// ClockTime is a wall-clock time of day in the venue timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

func parseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid HH:MM value %q", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// SessionStartClock parses the configured session open. Validate guarantees
// the value parses, so errors are ignored here.
func (e EngineConfig) SessionStartClock() ClockTime {
	ct, _ := parseClock(e.SessionStart)
	return ct
}

func (e EngineConfig) SessionEndClock() ClockTime {
	ct, _ := parseClock(e.SessionEnd)
	return ct
}

// FreshnessMaxAge converts the configured freshness window to a Duration.
func (e EngineConfig) FreshnessMaxAge() time.Duration {
	return time.Duration(e.FreshnessMaxAgeSec) * time.Second
}

// HistoryRetention converts the hard retention ceiling to a Duration.
func (e EngineConfig) HistoryRetention() time.Duration {
	return time.Duration(e.HistoryRetentionHours) * time.Hour
}
