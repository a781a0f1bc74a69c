// Package connection owns the push-channel socket: it drives the
// connection state machine and schedules heartbeat and reconnect timers.
package connection

import (
	"fmt"
	"net/url"
	"time"
)

// State is the connection state. Exactly one is active at a time.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a socket is open or being opened.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// Credentials authenticate one push channel.
type Credentials struct {
	URL   string
	Token string
}

// URI returns URL with the token appended as a query parameter.
func (c Credentials) URI() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse push url: %q is not absolute", c.URL)
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sameCredentials(a, b *Credentials) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Config holds connection timing.
type Config struct {
	// HeartbeatInterval is the ping period while connected.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// DialTimeout bounds a single dial.
	DialTimeout time.Duration
	// FrameBuffer is the capacity of the Frames channel.
	FrameBuffer int
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ReconnectDelay:    3 * time.Second,
		DialTimeout:       10 * time.Second,
		FrameBuffer:       256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = d.FrameBuffer
	}
	return c
}

// Diagnostics is a point-in-time view of heartbeat and reconnect
// bookkeeping.
type Diagnostics struct {
	State             State
	Generation        uint64
	LastPingSent      time.Time
	LastPongReceived  time.Time
	ReconnectAttempts int
	ReconnectPending  bool
}
