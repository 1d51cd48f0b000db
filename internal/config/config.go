package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type MarketplaceConfig struct {
	Accounts       map[string]AccountConfig `mapstructure:"accounts"`
	RequestTimeout string                   `mapstructure:"request_timeout"`
	Retry          RetryConfig              `mapstructure:"retry"`
}

func (m MarketplaceConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(m.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type AccountConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type RetryConfig struct {
	MaxAttempts    int    `mapstructure:"max_attempts"`
	InitialBackoff string `mapstructure:"initial_backoff"`
	MaxBackoff     string `mapstructure:"max_backoff"`
}

func (r RetryConfig) GetMaxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 5
	}
	return r.MaxAttempts
}

func (r RetryConfig) GetInitialBackoff() time.Duration {
	d, err := time.ParseDuration(r.InitialBackoff)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

func (r RetryConfig) GetMaxBackoff() time.Duration {
	d, err := time.ParseDuration(r.MaxBackoff)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type StorageConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SyncConfig struct {
	MaxPages         int    `mapstructure:"max_pages"`
	ItemsPerPage     int    `mapstructure:"items_per_page"`
	PageDelay        string `mapstructure:"page_delay"`
	RunTimeout       string `mapstructure:"run_timeout"`
	ConflictStrategy string `mapstructure:"conflict_strategy"`
	StaleAfter       string `mapstructure:"stale_after"`
}

func (s SyncConfig) GetMaxPages() int {
	if s.MaxPages <= 0 {
		return 100
	}
	return s.MaxPages
}

func (s SyncConfig) GetItemsPerPage() int {
	if s.ItemsPerPage <= 0 {
		return 100
	}
	return s.ItemsPerPage
}

func (s SyncConfig) GetPageDelay() time.Duration {
	d, err := time.ParseDuration(s.PageDelay)
	if err != nil || d < 0 {
		return 300 * time.Millisecond
	}
	return d
}

func (s SyncConfig) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(s.RunTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

func (s SyncConfig) GetStaleAfter() time.Duration {
	d, err := time.ParseDuration(s.StaleAfter)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Products      string `mapstructure:"products"`
	Orders        string `mapstructure:"orders"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

func (s SchedulerConfig) GetSweepInterval() string {
	if s.SweepInterval == "" {
		return "@every 10m"
	}
	return s.SweepInterval
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(s.ReadTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(s.WriteTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads the YAML config at path. Every key can be overridden
// through the environment, e.g. SYNC_STORAGE_PASSWORD for storage.password.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Marketplace.Accounts) == 0 {
		return nil, fmt.Errorf("no marketplace accounts configured")
	}

	return &cfg, nil
}
