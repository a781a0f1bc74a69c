// Package main is the realtime CLI: a terminal client for the push channel
// and the notification API.
//
// Follow the live dashboard and notification panel:
//
//	realtime watch --config config.yaml
//
// List notifications once:
//
//	realtime notifications list --tab unread
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UillB/appointmets-bot-sub003/internal/config"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "realtime",
		Short:        "Realtime dashboard and notification client",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default: ./config.yaml)")

	root.AddCommand(
		buildWatchCmd(),
		buildNotificationsCmd(),
	)
	return root
}

// loadConfig loads configuration and initializes the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("Configuration loaded",
		zap.String("push_url", cfg.Push.URL),
		zap.String("api_base_url", cfg.API.BaseURL),
	)
	return cfg, nil
}
