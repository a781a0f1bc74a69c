package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Ensure no env vars interfere
	os.Unsetenv("PUSH_URL")
	os.Unsetenv("AUTH_TOKEN")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Push defaults
	if cfg.Push.URL != "ws://localhost:8080/ws" {
		t.Errorf("Push.URL = %q, want ws://localhost:8080/ws", cfg.Push.URL)
	}
	if cfg.Push.HeartbeatInterval != 30*time.Second {
		t.Errorf("Push.HeartbeatInterval = %v, want 30s", cfg.Push.HeartbeatInterval)
	}
	if cfg.Push.ReconnectDelay != 3*time.Second {
		t.Errorf("Push.ReconnectDelay = %v, want 3s", cfg.Push.ReconnectDelay)
	}
	if cfg.Push.FrameBuffer != 256 {
		t.Errorf("Push.FrameBuffer = %d, want 256", cfg.Push.FrameBuffer)
	}

	// API defaults
	if cfg.API.BaseURL != "http://localhost:8080/api/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.RateLimit != 10 || cfg.API.Burst != 5 {
		t.Errorf("API rate = %v/%d, want 10/5", cfg.API.RateLimit, cfg.API.Burst)
	}

	// Sync core defaults
	if cfg.Events.Capacity != 100 {
		t.Errorf("Events.Capacity = %d, want 100", cfg.Events.Capacity)
	}
	if cfg.Notifications.PageSize != 50 {
		t.Errorf("Notifications.PageSize = %d, want 50", cfg.Notifications.PageSize)
	}
	if cfg.Notifications.RefetchDebounce != 300*time.Millisecond {
		t.Errorf("Notifications.RefetchDebounce = %v, want 300ms", cfg.Notifications.RefetchDebounce)
	}
	if cfg.Notifications.ResyncInterval != time.Minute {
		t.Errorf("Notifications.ResyncInterval = %v, want 1m", cfg.Notifications.ResyncInterval)
	}
	if cfg.Worker.PoolSize != 16 {
		t.Errorf("Worker.PoolSize = %d, want 16", cfg.Worker.PoolSize)
	}

	// Log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}

	// Devserver defaults
	if cfg.DevServer.Port != 8080 {
		t.Errorf("DevServer.Port = %d, want 8080", cfg.DevServer.Port)
	}
	if cfg.DevServer.TokenTTL != 15*time.Minute {
		t.Errorf("DevServer.TokenTTL = %v, want 15m", cfg.DevServer.TokenTTL)
	}
	// 32 random bytes hex-encoded -> 64 chars.
	if len(cfg.DevServer.SigningKey) != 64 {
		t.Errorf("DevServer.SigningKey length = %d, want 64", len(cfg.DevServer.SigningKey))
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PUSH_URL", "wss://push.example.com/ws")
	t.Setenv("AUTH_TOKEN", "abc")
	t.Setenv("NOTIFICATIONS_REFETCH_DEBOUNCE", "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Push.URL != "wss://push.example.com/ws" {
		t.Errorf("Push.URL = %q", cfg.Push.URL)
	}
	if cfg.Auth.Token != "abc" {
		t.Errorf("Auth.Token = %q, want abc", cfg.Auth.Token)
	}
	if cfg.Notifications.RefetchDebounce != time.Second {
		t.Errorf("Notifications.RefetchDebounce = %v, want 1s", cfg.Notifications.RefetchDebounce)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	content := `
push:
  url: ws://devbox:9000/ws
  reconnect_delay: 5s
events:
  capacity: 20
devserver:
  signing_key: keep-this-key
log:
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Push.URL != "ws://devbox:9000/ws" {
		t.Errorf("Push.URL = %q", cfg.Push.URL)
	}
	if cfg.Push.ReconnectDelay != 5*time.Second {
		t.Errorf("Push.ReconnectDelay = %v, want 5s", cfg.Push.ReconnectDelay)
	}
	if cfg.Push.HeartbeatInterval != 30*time.Second {
		t.Errorf("Push.HeartbeatInterval = %v, want default 30s", cfg.Push.HeartbeatInterval)
	}
	if cfg.Events.Capacity != 20 {
		t.Errorf("Events.Capacity = %d, want 20", cfg.Events.Capacity)
	}
	if cfg.DevServer.SigningKey != "keep-this-key" {
		t.Errorf("DevServer.SigningKey changed unexpectedly: %q", cfg.DevServer.SigningKey)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %q, want console", cfg.Log.Format)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func validConfig() Config {
	return Config{
		Push: PushConfig{
			URL:               "ws://localhost:8080/ws",
			HeartbeatInterval: 30 * time.Second,
			ReconnectDelay:    3 * time.Second,
			DialTimeout:       10 * time.Second,
			FrameBuffer:       256,
		},
		API:           APIConfig{BaseURL: "http://localhost:8080/api/v1", Timeout: 10 * time.Second},
		Auth:          AuthConfig{RefreshSkew: 30 * time.Second},
		Events:        EventsConfig{Capacity: 100},
		Notifications: NotificationsConfig{PageSize: 50, RefetchDebounce: 300 * time.Millisecond, ResyncInterval: time.Minute},
		Worker:        WorkerConfig{PoolSize: 16},
		Log:           LogConfig{Level: "info", Format: "json"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"relative push url", func(c *Config) { c.Push.URL = "/ws" }, "push.url"},
		{"http push url", func(c *Config) { c.Push.URL = "http://localhost/ws" }, "push.url"},
		{"ws api url", func(c *Config) { c.API.BaseURL = "ws://localhost/api" }, "api.base_url"},
		{"zero heartbeat", func(c *Config) { c.Push.HeartbeatInterval = 0 }, "push.heartbeat_interval"},
		{"negative reconnect delay", func(c *Config) { c.Push.ReconnectDelay = -time.Second }, "push.reconnect_delay"},
		{"zero debounce", func(c *Config) { c.Notifications.RefetchDebounce = 0 }, "notifications.refetch_debounce"},
		{"zero capacity", func(c *Config) { c.Events.Capacity = 0 }, "events.capacity"},
		{"zero pool", func(c *Config) { c.Worker.PoolSize = 0 }, "worker.pool_size"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
