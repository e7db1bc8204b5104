package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"slotdesk/internal/availability"
	"slotdesk/internal/calendar"
	"slotdesk/internal/config"
	"slotdesk/internal/crmapi"
	"slotdesk/internal/db"
	"slotdesk/internal/export"
	"slotdesk/internal/schedule"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bookctl",
		Short:         "Operator tools for the booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.Path(), "path to config.yaml")

	root.AddCommand(newAvailabilityCmd(&configPath))
	root.AddCommand(newExportCmd(&configPath))
	root.AddCommand(newBackupCmd(&configPath))
	root.AddCommand(newReferralsCmd(&configPath))
	return root
}

func openDB(configPath string) (*config.Config, *db.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, database, nil
}

func newAvailabilityCmd(configPath *string) *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print bookable slots for a month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			policy := schedule.DefaultPolicy()
			if sc, err := config.LoadScheduleConfig(cfg.Booking.ScheduleFile); err == nil {
				if p, err := sc.Policy(); err == nil {
					policy = p
				}
			}
			holder := schedule.NewHolder(policy)

			client := crmapi.NewClient(crmapi.Endpoints{
				CalendarURL: cfg.Webhooks.CalendarURL,
				APIKey:      cfg.Webhooks.APIKey,
			}, cfg.WebhookTimeout())
			client.UseLocation(policy.Loc())

			var source calendar.Source = client
			if cfg.Calendar.Source == "google" {
				creds, err := os.ReadFile(cfg.Calendar.Google.CredentialsFile)
				if err != nil {
					return fmt.Errorf("read google credentials: %w", err)
				}
				gs, err := calendar.NewGoogleSource(cmd.Context(), creds, cfg.Calendar.Google.CalendarID, holder)
				if err != nil {
					return err
				}
				source = gs
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).Level(zerolog.WarnLevel)
			snap, err := calendar.NewSynchronizer(source, holder, &logger).Refetch(cmd.Context())
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "availability unknown:", err)
			}

			calc := availability.NewCalculator(holder)
			target := policy.Today(calc.Now())
			if month != "" {
				if target, err = time.ParseInLocation("2006-01", month, policy.Loc()); err != nil {
					return fmt.Errorf("month must be YYYY-MM: %w", err)
				}
			}
			printMonth(cmd, calc.Month(target.Year(), target.Month(), snap))
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to show (YYYY-MM), defaults to the current month")
	return cmd
}

func printMonth(cmd *cobra.Command, days []availability.DayAvailability) {
	out := cmd.OutOrStdout()
	for _, d := range days {
		switch {
		case d.Unknown:
			_, _ = fmt.Fprintf(out, "%s  unknown\n", d.Date)
		case d.Past, d.OutOfHorizon:
			continue
		case d.FullyBooked:
			_, _ = fmt.Fprintf(out, "%s  -\n", d.Date)
		default:
			starts := make([]string, len(d.Slots))
			for i, s := range d.Slots {
				starts[i] = s.Start
			}
			_, _ = fmt.Fprintf(out, "%s  %s\n", d.Date, strings.Join(starts, " "))
		}
	}
}

func newExportCmd(configPath *string) *cobra.Command {
	var from, to, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export bookings to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, database, err := openDB(*configPath)
			if err != nil {
				return err
			}
			defer database.Close()

			w, n, err := export.Bookings(cmd.Context(), database, from, to)
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.SaveToFile(out); err != nil {
				return fmt.Errorf("save %s: %w", out, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d bookings to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&out, "out", "bookings.xlsx", "output file")
	return cmd
}

func newBackupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up the database now and prune old backups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, database, err := openDB(*configPath)
			if err != nil {
				return err
			}
			defer database.Close()

			nop := zerolog.Nop()
			svc := db.NewBackupService(database, cfg.Backup, &nop)
			path, err := svc.PerformBackup(cmd.Context())
			if err != nil {
				return err
			}
			removed := svc.CleanupOldBackups()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s (%d old backups removed)\n", path, removed)
			return nil
		},
	}
}

func newReferralsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "referrals <code>",
		Short: "Show attribution results for a referral code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, database, err := openDB(*configPath)
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			counts, err := database.CountReferrals(ctx, args[0])
			if err != nil {
				return err
			}
			if len(counts) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "no attributions for %s\n", args[0])
				return nil
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s, counts[s])
			}
			return nil
		},
	}
}
