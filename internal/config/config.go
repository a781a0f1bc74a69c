// Package config loads settings for the realtime client and the
// development backend.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (PUSH_URL, API_BASE_URL, AUTH_TOKEN, LOG_LEVEL...)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Push          PushConfig          `mapstructure:"push"`
	API           APIConfig           `mapstructure:"api"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Events        EventsConfig        `mapstructure:"events"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Log           LogConfig           `mapstructure:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	DevServer     DevServerConfig     `mapstructure:"devserver"`
}

// PushConfig contains push channel settings.
type PushConfig struct {
	URL               string        `mapstructure:"url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	FrameBuffer       int           `mapstructure:"frame_buffer"`
}

// APIConfig contains notification REST settings.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `mapstructure:"burst"`
}

// AuthConfig contains client credential settings.
type AuthConfig struct {
	Token       string        `mapstructure:"token"`
	RefreshSkew time.Duration `mapstructure:"refresh_skew"`
}

// EventsConfig sizes the event log.
type EventsConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// NotificationsConfig contains reconciler settings.
type NotificationsConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	RefetchDebounce time.Duration `mapstructure:"refetch_debounce"`
	ResyncInterval  time.Duration `mapstructure:"resync_interval"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// MetricsConfig controls the prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DevServerConfig contains development backend settings.
type DevServerConfig struct {
	Port            int           `mapstructure:"port"`
	SigningKey      string        `mapstructure:"signing_key"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Browser origins allowed to call the REST API. Empty uses the local
	// frontend dev servers.
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables. An empty
// file searches ., ./config and $HOME/.realtime for config.yaml.
func Load(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.realtime")
	}

	// push.heartbeat_interval → PUSH_HEARTBEAT_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if err := validateURL("push.url", c.Push.URL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"push.heartbeat_interval", c.Push.HeartbeatInterval},
		{"push.reconnect_delay", c.Push.ReconnectDelay},
		{"push.dial_timeout", c.Push.DialTimeout},
		{"api.timeout", c.API.Timeout},
		{"auth.refresh_skew", c.Auth.RefreshSkew},
		{"notifications.refetch_debounce", c.Notifications.RefetchDebounce},
		{"notifications.resync_interval", c.Notifications.ResyncInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.d)
		}
	}

	if c.Events.Capacity < 1 {
		return fmt.Errorf("events.capacity must be at least 1, got %d", c.Events.Capacity)
	}
	if c.Notifications.PageSize < 1 {
		return fmt.Errorf("notifications.page_size must be at least 1, got %d", c.Notifications.PageSize)
	}
	if c.Push.FrameBuffer < 1 {
		return fmt.Errorf("push.frame_buffer must be at least 1, got %d", c.Push.FrameBuffer)
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("worker.pool_size must be at least 1, got %d", c.Worker.PoolSize)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", key, schemes, u.Scheme)
}

// ensureSecrets generates a devserver signing key when none is configured.
// Tokens issued with it do not survive a restart.
func (c *Config) ensureSecrets() error {
	if c.DevServer.SigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate signing key: %w", err)
		}
		c.DevServer.SigningKey = key
		logBootstrapWarn(
			"auto-generated devserver signing_key; set DEVSERVER_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Push channel
	v.SetDefault("push.url", "ws://localhost:8080/ws")
	v.SetDefault("push.heartbeat_interval", "30s")
	v.SetDefault("push.reconnect_delay", "3s")
	v.SetDefault("push.dial_timeout", "10s")
	v.SetDefault("push.frame_buffer", 256)

	// Notification REST
	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.rate_limit", 10)
	v.SetDefault("api.burst", 5)

	// Auth
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.refresh_skew", "30s")

	// Sync core
	v.SetDefault("events.capacity", 100)
	v.SetDefault("notifications.page_size", 50)
	v.SetDefault("notifications.refetch_debounce", "300ms")
	v.SetDefault("notifications.resync_interval", "60s")
	v.SetDefault("worker.pool_size", 16)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.addr", "")

	// Devserver
	v.SetDefault("devserver.port", 8080)
	v.SetDefault("devserver.signing_key", "")
	v.SetDefault("devserver.token_ttl", "15m")
	v.SetDefault("devserver.shutdown_timeout", "10s")
	v.SetDefault("devserver.allowed_origins", []string{})
	v.SetDefault("devserver.allow_credentials", false)
	v.SetDefault("devserver.unsafe_allow_all_origins", false)
}
