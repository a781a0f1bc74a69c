package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/auth"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/push"
	"github.com/UillB/appointmets-bot-sub003/internal/session"
	"github.com/UillB/appointmets-bot-sub003/internal/view"
)

const (
	clearScreen  = "\033[H\033[2J"
	renderPeriod = 250 * time.Millisecond
	idleRender   = 5 * time.Second
)

type watchOptions struct {
	tab         string
	events      int
	tokenFile   string
	metricsAddr string
}

func buildWatchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live dashboard and notification panel",
		Long: `Connect to the push channel and keep the dashboard counters, the recent
event log and the notification panel up to date until interrupted.

The bearer token comes from auth.token, or from --token-file, which is
re-read shortly before the token expires.`,
		Example: `  realtime watch --tab unread
  realtime watch --token-file ~/.realtime/token --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.tab, "tab", "", "Notification tab: all, unread or archived (default: chosen from the first load)")
	cmd.Flags().IntVar(&opts.events, "events", view.DefaultEventLimit, "Number of recent events to show")
	cmd.Flags().StringVar(&opts.tokenFile, "token-file", "", "File holding the bearer token")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	return cmd
}

func runWatch(parent context.Context, out io.Writer, opts watchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var tab notification.Tab
	if opts.tab != "" {
		t, ok := notification.ParseTab(opts.tab)
		if !ok {
			return fmt.Errorf("unknown tab %q", opts.tab)
		}
		tab = t
	}

	source, err := tokenSource(cfg.Auth.Token, opts.tokenFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := session.New(session.FromConfig(cfg), session.Deps{
		Registerer:  reg,
		TokenSource: source,
	})
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(parentOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsAddr := cfg.Metrics.Addr
	if opts.metricsAddr != "" {
		metricsAddr = opts.metricsAddr
	}
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	dirty := make(chan struct{}, 1)
	s.OnChange(func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	s.OnMessage(func(f push.Frame) {
		if f.Type == push.TypeNotification && f.Message != "" {
			logger.Info("Notification received", zap.String("title", f.Message))
		}
	})

	if err := s.Start(ctx); err != nil {
		// the periodic resync retries; keep watching
		logger.Warn("Initial notification load failed", zap.Error(err))
	}

	r := view.NewRenderer(out)
	render := func() {
		now := time.Now()
		fmt.Fprint(out, clearScreen)
		if err := r.Dashboard(s.Dashboard(opts.events), now); err != nil {
			logger.Warn("Render dashboard failed", zap.Error(err))
		}
		fmt.Fprintln(out)
		if err := r.Panel(s.Panel(tab, now), now); err != nil {
			logger.Warn("Render panel failed", zap.Error(err))
		}
	}
	render()

	// Relative times age even without changes.
	ticker := time.NewTicker(renderPeriod)
	defer ticker.Stop()
	pending := false
	lastRender := time.Now()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			return nil
		case <-dirty:
			pending = true
		case now := <-ticker.C:
			if pending || now.Sub(lastRender) >= idleRender {
				render()
				pending = false
				lastRender = now
			}
		}
	}
}

func parentOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// tokenSource picks the token file when given, then the configured token.
// It returns nil when neither is set.
func tokenSource(configured, file string) (auth.TokenSource, error) {
	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("token file: %w", err)
		}
		return fileToken(file), nil
	}
	if configured != "" {
		return auth.StaticToken(configured), nil
	}
	return nil, nil
}

// fileToken reads the token from a file on every poll. A missing file
// means logged out.
func fileToken(path string) auth.TokenSource {
	return auth.TokenSourceFunc(func(context.Context) (string, error) {
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	})
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { //nolint:naked-goroutine // metrics listener lives for the whole command
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Metrics server started", zap.String("addr", addr))
	return srv
}
