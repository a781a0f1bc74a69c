// Package main runs the development backend: the push socket, the
// notification REST API and an event injection endpoint, all in memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/config"
	"github.com/UillB/appointmets-bot-sub003/internal/devserver"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
)

// websocketGoingAway is the close code sent to clients on shutdown.
const websocketGoingAway = 1001

type options struct {
	configPath   string
	demoInterval time.Duration
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "devserver",
		Short:        "In-memory push and notification backend for local development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().DurationVar(&opts.demoInterval, "demo-interval", 0, "Publish a sample event at this interval (0 disables)")
	return cmd
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)
	srv := devserver.New(devserver.Config{
		SigningKey:            []byte(cfg.DevServer.SigningKey),
		TokenTTL:              cfg.DevServer.TokenTTL,
		AllowedOrigins:        cfg.DevServer.AllowedOrigins,
		AllowCredentials:      cfg.DevServer.AllowCredentials,
		UnsafeAllowAllOrigins: cfg.DevServer.UnsafeAllowAllOrigins,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.DevServer.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { //nolint:naked-goroutine // main server goroutine is exempt
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("Devserver started", zap.String("addr", httpSrv.Addr))

	if opts.demoInterval > 0 {
		go runDemo(ctx, srv, opts.demoInterval) //nolint:naked-goroutine // stops with ctx
		logger.Info("Demo events enabled", zap.Duration("interval", opts.demoInterval))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DevServer.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked sockets are not tracked by Shutdown.
	srv.CloseAll(websocketGoingAway)
	logger.Info("Shutting down devserver...")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("Devserver stopped gracefully")
	return nil
}
