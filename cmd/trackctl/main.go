// Command trackctl is the operator CLI for the family location tracker.
//
// Usage:
//
//	trackctl migrate
//	trackctl flush
//	trackctl sweep
//	trackctl publish --user u1 --lat 40.41 --lon -3.70
//	trackctl invalidate-groups u1 u2
//	trackctl sos --user u1
//	trackctl watch
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/famtrack/internal/app"
	"github.com/albapepper/famtrack/internal/config"
	"github.com/albapepper/famtrack/internal/db"
	"github.com/albapepper/famtrack/internal/fanout"
	"github.com/albapepper/famtrack/internal/location"
	"github.com/albapepper/famtrack/internal/observability"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "trackctl",
		Short:        "Family location tracker operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(flushCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(publishCmd())
	root.AddCommand(invalidateGroupsCmd())
	root.AddCommand(sosCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.DatabaseURL, logger)
		},
	}
}

// --------------------------------------------------------------------------
// pipeline commands
// --------------------------------------------------------------------------

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Run one flush cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				res, err := a.Flusher.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete persisted locations older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				n, err := a.Sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d window=%s\n", n, a.Config.RetentionWindow)
				return nil
			})
		},
	}
}

func publishCmd() *cobra.Command {
	var (
		userID   string
		lat, lon float64
		at       string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Enqueue a location event on the inbound queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				ts = parsed
			}
			ev := location.Event{UserID: userID, Latitude: lat, Longitude: lon, Timestamp: ts}
			if err := ev.Validate(); err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Queue.Enqueue(ctx, ev)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in degrees")
	cmd.Flags().StringVar(&at, "at", "", "Event time (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func invalidateGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate-groups USER_ID...",
		Short: "Drop cached group lists so the next event reloads them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return a.Membership.Invalidate(ctx, args...)
			})
		},
	}
}

func sosCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "sos",
		Short: "Raise an SOS alert to every group of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				groups, err := a.Membership.GroupIDs(ctx, userID)
				if err != nil {
					return err
				}
				sent, err := a.Emitter.RaiseSOS(ctx, userID, groups, a.Names())
				for _, s := range sent {
					fmt.Fprintf(cmd.OutOrStdout(), "sos id=%s group=%s\n", s.ID, s.GroupID)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func watchCmd() *cobra.Command {
	var alertsOnly bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live location and alert messages as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				channels := []string{config.LiveUpdatesChannel, config.AlertsChannel}
				if alertsOnly {
					channels = channels[1:]
				}
				msgs, err := fanout.Subscribe(ctx, a.Redis, channels...)
				if err != nil {
					return err
				}
				for m := range msgs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", m.Channel, m.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&alertsOnly, "alerts", false, "Only show alerts")
	return cmd
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

// withApp loads config, connects and runs fn under an interrupt-aware
// context.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.Build(ctx, cfg, observability.Nop(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
