package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UillB/appointmets-bot-sub003/internal/devserver"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
	"github.com/UillB/appointmets-bot-sub003/internal/stats"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func TestBaselineEvents_UniqueIDs(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, ev := range baselineEvents() {
		if ev.ID == "" {
			t.Fatalf("event %s has no id", ev.Type)
		}
		if seen[ev.ID] {
			t.Fatalf("duplicate event id: %s", ev.ID)
		}
		seen[ev.ID] = true
		if ev.Type != push.NormalizeType(ev.Type) {
			t.Fatalf("event %s type %q is not normalized", ev.ID, ev.Type)
		}
	}
}

func TestBaselineEvents_MoveEveryCounter(t *testing.T) {
	t.Parallel()

	p := stats.NewProjector(time.Now)
	for _, ev := range baselineEvents() {
		p.Apply(push.Event{ID: ev.ID, Type: ev.Type, Source: push.Source(ev.Source), Payload: ev.Payload})
	}
	snap := p.Snapshot()
	if got := snap.Get(stats.RealTimeEvents); got != len(baselineEvents()) {
		t.Fatalf("RealTimeEvents = %d, want %d", got, len(baselineEvents()))
	}
	for _, name := range []string{stats.TodayAppointments, stats.ActiveUsers} {
		if snap.Get(name) == 0 {
			t.Fatalf("counter %s not moved by baseline", name)
		}
	}
}

func TestBaselineEvents_CatalogCoverage(t *testing.T) {
	t.Parallel()

	catalog := notification.DefaultCatalog()
	notifiable, silent := 0, 0
	for _, ev := range baselineEvents() {
		if catalog.IsNotifiable(ev.Type) {
			notifiable++
		} else {
			silent++
		}
	}
	if notifiable == 0 || silent == 0 {
		t.Fatalf("baseline should mix notifiable and silent events, got %d/%d", notifiable, silent)
	}
}

func TestSeedAgainstDevserver(t *testing.T) {
	srv := devserver.New(devserver.Config{SigningKey: []byte("seed-test")})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx := context.Background()
	c := &seedClient{baseURL: ts.URL + "/api/v1", http: &http.Client{Timeout: 5 * time.Second}}
	if err := c.login(ctx, "seed"); err != nil {
		t.Fatalf("login: %v", err)
	}

	empty, err := c.isEmpty(ctx)
	if err != nil {
		t.Fatalf("isEmpty: %v", err)
	}
	if !empty {
		t.Fatal("fresh devserver should be empty")
	}

	if err := seedEvents(ctx, c, baselineEvents()); err != nil {
		t.Fatalf("seedEvents: %v", err)
	}

	empty, err = c.isEmpty(ctx)
	if err != nil {
		t.Fatalf("isEmpty after seed: %v", err)
	}
	if empty {
		t.Fatal("devserver should hold notifications after seeding")
	}
}

func TestSeedClient_RejectsMissingToken(t *testing.T) {
	srv := devserver.New(devserver.Config{SigningKey: []byte("seed-test")})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := &seedClient{baseURL: ts.URL + "/api/v1", http: &http.Client{Timeout: 5 * time.Second}}
	if _, err := c.publish(context.Background(), baselineEvents()[0]); err == nil {
		t.Fatal("publish without token should fail")
	}
}
