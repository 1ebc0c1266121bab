package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Remote        RemoteConfig        `mapstructure:"remote"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	StateStorage  StateStorage        `mapstructure:"state_storage"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// RemoteConfig describes the spreadsheet RPC endpoint.
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type CacheConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TTL            time.Duration `mapstructure:"ttl"`
	FallbackMaxAge time.Duration `mapstructure:"fallback_max_age"`
	MaxEntries     int           `mapstructure:"max_entries"`
}

type SyncConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	ConflictWindow   time.Duration `mapstructure:"conflict_window"`
	ConnectionBuffer int           `mapstructure:"connection_buffer"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type NotificationsConfig struct {
	AdminUsers      []string      `mapstructure:"admin_users"`
	DeadlineHorizon time.Duration `mapstructure:"deadline_horizon"`
}

type StateStorage struct {
	FilePath string `mapstructure:"file_path"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ReapInterval  string `mapstructure:"reap_interval"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	AuthToken    string        `mapstructure:"auth_token"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CorsOrigins  []string      `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("SHEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults plus env carry the service.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Remote.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Registered so SHEETSYNC_REMOTE_BASE_URL is visible to Unmarshal.
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.request_timeout", "15s")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.fallback_max_age", "10m")
	v.SetDefault("cache.max_entries", 512)

	v.SetDefault("sync.heartbeat_timeout", "60s")
	v.SetDefault("sync.conflict_window", "5s")
	v.SetDefault("sync.connection_buffer", 64)
	v.SetDefault("sync.ping_interval", "25s")

	v.SetDefault("notifications.deadline_horizon", "48h")

	v.SetDefault("state_storage.file_path", "sheetsync.db")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reap_interval", "@every 30s")
	v.SetDefault("scheduler.sweep_interval", "@every 1h")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // 0 keeps SSE streams open

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
