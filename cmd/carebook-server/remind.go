package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carebook/carebook/internal/config"
	"github.com/carebook/carebook/internal/domain/identity"
	"github.com/carebook/carebook/internal/domain/notification"
	"github.com/carebook/carebook/internal/domain/scheduling"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/lock"
	delivery "github.com/carebook/carebook/internal/platform/notification"
)

// reminderStack is the minimal service graph the reminder worker needs. It
// shares no process state with the API server; both operate on the same
// database rows.
type reminderStack struct {
	cfg           *config.Config
	pool          *pgxpool.Pool
	users         *identity.Service
	notifications *notification.Service
	bookings      *scheduling.Service
}

func (s *reminderStack) Close() {
	s.pool.Close()
}

func newReminderStack(ctx context.Context, logger zerolog.Logger) (*reminderStack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}

	encSvc, err := newEncryptionService(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	txr := db.NewPoolTxRunner(pool)

	identitySvc := identity.NewService(
		identity.NewUserRepoWithEncryption(pool, encSvc.Encryptor()),
		identity.NewDoctorProfileRepo(pool),
		identity.NewPatientProfileRepoWithEncryption(pool, encSvc.Encryptor()),
		tokens,
		txr,
	)

	dispatcher := delivery.NewDispatcher(
		&delivery.LogEmailSender{Logger: logger},
		&delivery.LogSMSSender{Logger: logger},
		delivery.NewTemplateEngine(),
	)

	// No websocket hub in the worker; pushes are skipped.
	notifSvc := notification.NewService(
		notification.NewNotificationRepo(pool),
		notification.NewReminderRepo(pool),
		&partyDirectory{svc: identitySvc},
		dispatcher,
		nil,
		cfg.ReminderHour,
		logger,
	)

	schedSvc := scheduling.NewService(
		scheduling.NewSlotRepo(pool),
		scheduling.NewBookingRepo(pool),
		&doctorDirectory{svc: identitySvc},
		txr,
		lock.NoopLocker{},
		notifSvc,
	)

	return &reminderStack{
		cfg:           cfg,
		pool:          pool,
		users:         identitySvc,
		notifications: notifSvc,
		bookings:      schedSvc,
	}, nil
}

func remindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Schedule and deliver appointment reminders",
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create reminder rows for upcoming appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			logger := newLogger()
			ctx := context.Background()
			stack, err := newReminderStack(ctx, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			if days <= 0 {
				days = stack.cfg.ReminderLookaheadDays
			}

			created, err := stack.notifications.ScheduleUpcomingReminders(ctx, stack.bookings, days)
			if err != nil {
				return fmt.Errorf("schedule reminders: %w", err)
			}

			fmt.Printf("Scheduled %d reminder(s) over the next %d day(s).\n", created, days)
			return nil
		},
	}
	scheduleCmd.Flags().Int("days", 0, "Lookahead window in days (default from REMINDER_LOOKAHEAD_DAYS)")
	cmd.AddCommand(scheduleCmd)

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Deliver reminders that are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			logger := newLogger()
			ctx := context.Background()
			stack, err := newReminderStack(ctx, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			sent, failed, err := stack.notifications.ProcessDueReminders(ctx, stack.bookings, time.Now().UTC(), limit)
			if err != nil {
				return fmt.Errorf("process reminders: %w", err)
			}

			fmt.Printf("Delivered %d reminder(s), %d failed.\n", sent, failed)
			return nil
		},
	}
	processCmd.Flags().Int("limit", 100, "Maximum reminders to deliver per run")
	cmd.AddCommand(processCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reminder worker loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			limit, _ := cmd.Flags().GetInt("limit")

			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stack, err := newReminderStack(ctx, logger)
			if err != nil {
				return err
			}
			defer stack.Close()

			days := stack.cfg.ReminderLookaheadDays
			logger.Info().
				Dur("interval", interval).
				Int("lookahead_days", days).
				Msg("reminder worker started")

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				created, err := stack.notifications.ScheduleUpcomingReminders(ctx, stack.bookings, days)
				if err != nil {
					logger.Error().Err(err).Msg("schedule reminders failed")
				} else if created > 0 {
					logger.Info().Int("created", created).Msg("scheduled reminders")
				}

				sent, failed, err := stack.notifications.ProcessDueReminders(ctx, stack.bookings, time.Now().UTC(), limit)
				if err != nil {
					logger.Error().Err(err).Msg("process reminders failed")
				} else if sent > 0 || failed > 0 {
					logger.Info().Int("sent", sent).Int("failed", failed).Msg("processed reminders")
				}

				select {
				case <-ctx.Done():
					logger.Info().Msg("reminder worker stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	runCmd.Flags().Duration("interval", time.Minute, "How often to scan for due reminders")
	runCmd.Flags().Int("limit", 100, "Maximum reminders to deliver per tick")
	cmd.AddCommand(runCmd)

	return cmd
}
