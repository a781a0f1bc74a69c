// Package main seeds a running devserver with a baseline set of events so
// the dashboard and the notification panel have something to show.
//
// Seeding is skipped when the server already holds notifications.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/config"
	"github.com/UillB/appointmets-bot-sub003/internal/devserver"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string
	var force bool
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Publish baseline events to a running devserver",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, force)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&force, "force", false, "Seed even when notifications already exist")
	return cmd
}

func run(ctx context.Context, configPath string, force bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if ctx == nil {
		ctx = context.Background()
	}
	client := &seedClient{
		baseURL: strings.TrimRight(cfg.API.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.API.Timeout},
		token:   cfg.Auth.Token,
	}

	logger.Info("Starting event seeding...", zap.String("api_base_url", client.baseURL))

	if client.token == "" {
		if err := client.login(ctx, "seed"); err != nil {
			return fmt.Errorf("obtain token: %w", err)
		}
	}

	if !force {
		empty, err := client.isEmpty(ctx)
		if err != nil {
			return fmt.Errorf("check existing notifications: %w", err)
		}
		if !empty {
			logger.Info("Notifications already exist, skipping")
			return nil
		}
	}

	if err := seedEvents(ctx, client, baselineEvents()); err != nil {
		return err
	}

	logger.Info("Event seeding completed successfully")
	return nil
}

// baselineEvents covers every dashboard counter and every catalog entry
// at least once.
func baselineEvents() []devserver.EventInput {
	primary := string(push.SourcePrimaryChannel)
	admin := string(push.SourceAdminPanel)
	return []devserver.EventInput{
		{ID: "seed-appointment-1", Type: "appointment.created", Source: primary,
			Payload: map[string]any{"clientName": "Ada Lovelace", "serviceName": "Haircut", "date": "09:00"}},
		{ID: "seed-appointment-2", Type: "appointment.created", Source: primary,
			Payload: map[string]any{"clientName": "Grace Hopper", "serviceName": "Beard trim", "date": "11:30"}},
		{ID: "seed-appointment-3", Type: "appointment.confirmed", Source: admin,
			Payload: map[string]any{"clientName": "Ada Lovelace", "serviceName": "Haircut"}},
		{ID: "seed-appointment-4", Type: "appointment.cancelled", Source: primary,
			Payload: map[string]any{"clientName": "Grace Hopper", "serviceName": "Beard trim", "date": "11:30"}},
		{ID: "seed-bot-1", Type: "bot.message.received", Source: primary,
			Payload: map[string]any{"from": "Alan", "text": "Are you open on Sunday?"}},
		{ID: "seed-bot-2", Type: "bot.booking.completed", Source: primary,
			Payload: map[string]any{"clientName": "Alan Turing"}},
		{ID: "seed-service-1", Type: "service.updated", Source: admin,
			Payload: map[string]any{"serviceName": "Haircut"}},
		{ID: "seed-slot-1", Type: "slot.blocked", Source: admin,
			Payload: map[string]any{"date": "Friday 14:00"}},
		{ID: "seed-user-1", Type: "user.login", Source: admin,
			Payload: map[string]any{"userId": "admin"}},
	}
}

func seedEvents(ctx context.Context, c *seedClient, events []devserver.EventInput) error {
	for _, ev := range events {
		out, err := c.publish(ctx, ev)
		if err != nil {
			return fmt.Errorf("publish %s: %w", ev.ID, err)
		}
		logger.Info("Seeded event",
			zap.String("event_id", out.EventID),
			zap.String("type", ev.Type),
			zap.Bool("notification", out.Notification != nil),
		)
	}
	return nil
}

// seedClient covers the two devserver endpoints the notification store
// does not: token issue and event injection.
type seedClient struct {
	baseURL string
	http    *http.Client
	token   string
}

func (c *seedClient) login(ctx context.Context, userID string) error {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := c.post(ctx, "/auth/token", map[string]string{"userId": userID}, &out); err != nil {
		return err
	}
	c.token = out.Token
	logger.Info("Seed token issued", zap.Time("expires_at", out.ExpiresAt))
	return nil
}

func (c *seedClient) isEmpty(ctx context.Context) (bool, error) {
	store, err := notification.NewHTTPStore(notification.HTTPStoreConfig{BaseURL: c.baseURL},
		func() string { return c.token },
		notification.WithHTTPClient(c.http))
	if err != nil {
		return false, err
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.Total == 0, nil
}

func (c *seedClient) publish(ctx context.Context, ev devserver.EventInput) (devserver.Published, error) {
	var out devserver.Published
	err := c.post(ctx, "/events", ev, &out)
	return out, err
}

func (c *seedClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e) //nolint:errcheck
		return fmt.Errorf("%s %s: status %d %s %s", req.Method, path, resp.StatusCode, e.Code, e.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
