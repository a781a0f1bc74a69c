package session

import (
	"time"

	"github.com/UillB/appointmets-bot-sub003/internal/auth"
	"github.com/UillB/appointmets-bot-sub003/internal/config"
	"github.com/UillB/appointmets-bot-sub003/internal/connection"
	"github.com/UillB/appointmets-bot-sub003/internal/ingest"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/worker"
)

// Config is everything a Session needs besides its collaborators.
type Config struct {
	// PushURL is the socket endpoint; the token is appended per connect.
	PushURL       string
	Connection    connection.Config
	API           notification.HTTPStoreConfig
	Notifications notification.Config
	EventCapacity int
	PoolSize      int
	RefreshSkew   time.Duration
}

// DefaultConfig returns production settings for pushURL and apiURL.
func DefaultConfig(pushURL, apiURL string) Config {
	return Config{
		PushURL:       pushURL,
		Connection:    connection.DefaultConfig(),
		API:           notification.HTTPStoreConfig{BaseURL: apiURL},
		Notifications: notification.DefaultConfig(),
		EventCapacity: ingest.DefaultCapacity,
		PoolSize:      worker.DefaultSize,
		RefreshSkew:   auth.DefaultRefreshSkew,
	}
}

// FromConfig maps loaded configuration onto a session Config.
func FromConfig(c *config.Config) Config {
	return Config{
		PushURL: c.Push.URL,
		Connection: connection.Config{
			HeartbeatInterval: c.Push.HeartbeatInterval,
			ReconnectDelay:    c.Push.ReconnectDelay,
			DialTimeout:       c.Push.DialTimeout,
			FrameBuffer:       c.Push.FrameBuffer,
		},
		API: notification.HTTPStoreConfig{
			BaseURL:   c.API.BaseURL,
			Timeout:   c.API.Timeout,
			RateLimit: c.API.RateLimit,
			Burst:     c.API.Burst,
		},
		Notifications: notification.Config{
			PageSize:        c.Notifications.PageSize,
			RefetchDebounce: c.Notifications.RefetchDebounce,
			ResyncInterval:  c.Notifications.ResyncInterval,
		},
		EventCapacity: c.Events.Capacity,
		PoolSize:      c.Worker.PoolSize,
		RefreshSkew:   c.Auth.RefreshSkew,
	}
}
