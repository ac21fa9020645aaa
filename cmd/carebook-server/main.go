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

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carebook/carebook/internal/config"
	"github.com/carebook/carebook/internal/domain/identity"
	"github.com/carebook/carebook/internal/domain/notification"
	"github.com/carebook/carebook/internal/domain/scheduling"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/hipaa"
	"github.com/carebook/carebook/internal/platform/lock"
	"github.com/carebook/carebook/internal/platform/middleware"
	delivery "github.com/carebook/carebook/internal/platform/notification"
	"github.com/carebook/carebook/internal/platform/websocket"
)

// doctorDirectory adapts the identity service to the scheduling
// DoctorDirectory interface, avoiding a direct import between the two
// domains.
type doctorDirectory struct {
	svc *identity.Service
}

func (d *doctorDirectory) DoctorSchedule(ctx context.Context, doctorID uuid.UUID) (*scheduling.DoctorSchedule, error) {
	profile, err := d.svc.DoctorSchedule(ctx, doctorID)
	if err != nil {
		if errors.Is(err, identity.ErrDoctorProfileNotFound) || errors.Is(err, identity.ErrUserNotFound) {
			return nil, scheduling.ErrDoctorNotFound
		}
		return nil, err
	}
	days, err := profile.WorkingDayList()
	if err != nil {
		return nil, fmt.Errorf("doctor %s working days: %w", doctorID, err)
	}
	return &scheduling.DoctorSchedule{
		DoctorID:    profile.UserID,
		WorkingDays: days,
		WorkStart:   profile.WorkStart,
		WorkEnd:     profile.WorkEnd,
	}, nil
}

// partyDirectory adapts the identity service to the notification Directory
// interface.
type partyDirectory struct {
	svc *identity.Service
}

func (d *partyDirectory) Party(ctx context.Context, userID uuid.UUID) (*notification.Party, error) {
	u, err := d.svc.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &notification.Party{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	return p, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "carebook-server",
		Short: "Appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Roll forward with a corrective migration instead.")
			return nil
		},
	})

	return cmd
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newEncryptionService builds the PHI encryptor, rotation-aware when previous
// keys are configured.
func newEncryptionService(cfg *config.Config, logger zerolog.Logger) (*hipaa.EncryptionService, error) {
	prev, err := cfg.PreviousPHIKeys()
	if err != nil {
		return nil, err
	}
	if len(prev) > 0 {
		return hipaa.NewEncryptionServiceWithRotation(cfg.PHIEncryptionKey, cfg.PHIEncryptionKeyVer, prev, logger)
	}
	return hipaa.NewEncryptionService(cfg.PHIEncryptionKey, logger)
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// PHI field-level encryption
	encSvc, err := newEncryptionService(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create PHI encryptor")
	}

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	txr := db.NewPoolTxRunner(pool)

	// Slot holds serialize concurrent claims on the same slot across
	// instances. Without redis the hold is a no-op and the partial unique
	// index on bookings is the only arbiter.
	var locker lock.SlotLocker = lock.NoopLocker{}
	if cfg.RedisAddr != "" {
		client, err := lock.NewClient(cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		locker = lock.NewRedisSlotLocker(client, time.Duration(cfg.SlotHoldTTLSeconds)*time.Second)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("slot holds backed by redis")
	} else {
		logger.Warn().Msg("REDIS_ADDR not set; slot holds rely on the database unique index only")
	}

	dispatcher := delivery.NewDispatcher(
		&delivery.LogEmailSender{Logger: logger},
		&delivery.LogSMSSender{Logger: logger},
		delivery.NewTemplateEngine(),
	)
	hub := websocket.NewHub()

	// Identity domain
	userRepo := identity.NewUserRepoWithEncryption(pool, encSvc.Encryptor())
	doctorRepo := identity.NewDoctorProfileRepo(pool)
	patientRepo := identity.NewPatientProfileRepoWithEncryption(pool, encSvc.Encryptor())
	identitySvc := identity.NewService(userRepo, doctorRepo, patientRepo, tokens, txr)
	identityHandler := identity.NewHandler(identitySvc)

	// Notification domain
	notifSvc := notification.NewService(
		notification.NewNotificationRepo(pool),
		notification.NewReminderRepo(pool),
		&partyDirectory{svc: identitySvc},
		dispatcher,
		hub,
		cfg.ReminderHour,
		logger,
	)
	notifHandler := notification.NewHandler(notifSvc)

	// Scheduling domain, with the notification service as its lifecycle
	// listener.
	schedSvc := scheduling.NewService(
		scheduling.NewSlotRepo(pool),
		scheduling.NewBookingRepo(pool),
		&doctorDirectory{svc: identitySvc},
		txr,
		locker,
		notifSvc,
	)
	schedHandler := scheduling.NewHandler(schedSvc)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.Audit(logger, hipaa.NewAccessLogger(pool)))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Per-client limits keyed by authenticated user, with role-based plans.
	clientLimiter := middleware.NewClientRateLimiter()
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go clientLimiter.StartCleanup(limiterCtx, time.Hour)

	// The websocket upgrade hijacks the connection, so it must bypass the
	// response buffering done by the ETag middleware.
	cacheCfg := middleware.DefaultCacheConfig()
	cacheCfg.ExcludePaths = []string{"/api/v1/ws"}

	// The public group carries registration and login; everything else
	// requires a bearer token.
	public := e.Group("/api/v1")
	public.Use(middleware.RateLimit(rateLimitCfg))

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(rateLimitCfg))
	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.JWTSecret)}
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		api.Use(auth.JWTMiddleware(jwtCfg))
	}
	api.Use(middleware.ClientRateLimitMiddleware(clientLimiter))
	api.Use(middleware.ETagMiddleware(cacheCfg))

	identityHandler.RegisterRoutes(public, api)
	schedHandler.RegisterRoutes(api)
	notifHandler.RegisterRoutes(api)
	websocket.NewWebSocketHandler(hub).RegisterRoutes(api)

	// Admin surface for inspecting and tuning per-client limits.
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	middleware.NewRateLimitHandler(clientLimiter).RegisterRoutes(admin)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/ready", db.HealthHandler(pool))
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
