package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/UillB/appointmets-bot-sub003/internal/config"
	"github.com/UillB/appointmets-bot-sub003/internal/notification"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/logger"
	"github.com/UillB/appointmets-bot-sub003/internal/pkg/scheduler"
	"github.com/UillB/appointmets-bot-sub003/internal/view"
)

// buildNotificationsCmd creates the "notifications" command group. Each
// subcommand performs one REST call and prints the resulting panel.
func buildNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "List and manage notifications",
	}

	var tab string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the notification panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifications(cmd.Context(), cmd.OutOrStdout(), tab, nil)
		},
	}
	list.Flags().StringVar(&tab, "tab", "", "Tab: all, unread or archived (default: unread when anything is unread)")

	cmd.AddCommand(
		list,
		notificationOp("read <id>", "Mark a notification read", cobra.ExactArgs(1),
			func(ctx context.Context, r *notification.Reconciler, args []string) error {
				return r.MarkRead(ctx, args[0])
			}),
		notificationOp("read-all", "Mark every notification read", cobra.NoArgs,
			func(ctx context.Context, r *notification.Reconciler, _ []string) error {
				return r.MarkAllRead(ctx)
			}),
		notificationOp("archive <id>", "Archive a notification", cobra.ExactArgs(1),
			func(ctx context.Context, r *notification.Reconciler, args []string) error {
				return r.Archive(ctx, args[0])
			}),
		notificationOp("delete <id>", "Delete a notification", cobra.ExactArgs(1),
			func(ctx context.Context, r *notification.Reconciler, args []string) error {
				return r.Delete(ctx, args[0])
			}),
		notificationOp("clear", "Delete every notification", cobra.NoArgs,
			func(ctx context.Context, r *notification.Reconciler, _ []string) error {
				return r.ClearAll(ctx)
			}),
	)
	return cmd
}

type reconcilerOp func(ctx context.Context, r *notification.Reconciler, args []string) error

func notificationOp(use, short string, args cobra.PositionalArgs, op reconcilerOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, a []string) error {
			return runNotifications(cmd.Context(), cmd.OutOrStdout(), "", func(ctx context.Context, r *notification.Reconciler) error {
				return op(ctx, r, a)
			})
		},
	}
}

// runNotifications loads the collection, applies op when given and prints
// the panel for tab.
func runNotifications(parent context.Context, out io.Writer, tabName string, op func(context.Context, *notification.Reconciler) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var tab notification.Tab
	if tabName != "" {
		t, ok := notification.ParseTab(tabName)
		if !ok {
			return fmt.Errorf("unknown tab %q", tabName)
		}
		tab = t
	}

	r, err := oneShotReconciler(cfg)
	if err != nil {
		return err
	}

	ctx := parentOrBackground(parent)
	ctx, cancel := context.WithTimeout(ctx, 2*cfg.API.Timeout)
	defer cancel()

	if err := r.Refresh(ctx); err != nil {
		return err
	}
	if op != nil {
		if err := op(ctx, r); err != nil {
			return err
		}
	}

	now := time.Now()
	return view.NewRenderer(out).Panel(view.BuildPanel(r.Snapshot(), tab, now), now)
}

// oneShotReconciler builds a reconciler with no background timers.
func oneShotReconciler(cfg *config.Config) (*notification.Reconciler, error) {
	if cfg.Auth.Token == "" {
		return nil, fmt.Errorf("auth.token is required (set AUTH_TOKEN)")
	}
	token := cfg.Auth.Token
	store, err := notification.NewHTTPStore(notification.HTTPStoreConfig{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
	}, func() string { return token })
	if err != nil {
		return nil, err
	}
	return notification.NewReconciler(notification.Config{
		PageSize:        cfg.Notifications.PageSize,
		RefetchDebounce: cfg.Notifications.RefetchDebounce,
	}, store, scheduler.Real()), nil
}
