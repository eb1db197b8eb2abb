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
	"github.com/spf13/cobra"

	"github.com/clinic/scheduler/internal/config"
	"github.com/clinic/scheduler/internal/domain/calendar"
	"github.com/clinic/scheduler/internal/domain/notification"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/internal/platform/db"
	"github.com/clinic/scheduler/internal/platform/jobs"
	"github.com/clinic/scheduler/internal/platform/middleware"
	"github.com/clinic/scheduler/internal/platform/telemetry"
	"github.com/clinic/scheduler/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "scheduler-server",
		Short:         "Clinic appointment scheduling API server",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(remindersCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
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

	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Calendar sync operations",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sync one doctor's calendar, or every connected doctor when --doctor is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			dirFlag, _ := cmd.Flags().GetString("direction")

			direction, err := calendar.ParseDirection(dirFlag)
			if err != nil {
				return err
			}
			var doctorID uuid.UUID
			if doctorFlag != "" {
				if doctorID, err = uuid.Parse(doctorFlag); err != nil {
					return fmt.Errorf("invalid --doctor: %w", err)
				}
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := buildComponents(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			if doctorID != uuid.Nil {
				res, err := c.calendar.RunSync(ctx, doctorID, direction)
				if err != nil {
					return err
				}
				printOutcome(res)
				return nil
			}

			results, err := c.calendar.SyncAll(ctx, direction)
			for _, res := range results {
				printOutcome(res)
			}
			return err
		},
	}
	runCmd.Flags().String("doctor", "", "Doctor user id; all connected doctors when empty")
	runCmd.Flags().String("direction", "bidirectional", "to_remote, from_remote or bidirectional")
	cmd.AddCommand(runCmd)

	return cmd
}

func printOutcome(res calendar.DoctorOutcome) {
	if res.Skipped {
		fmt.Printf("%s skipped: sync already running\n", res.DoctorID)
		return
	}
	fmt.Printf("%s pushed=%d pulled=%d errors=%d\n",
		res.DoctorID, res.Outcome.Pushed, res.Outcome.Pulled, len(res.Outcome.Errors))
	for _, e := range res.Outcome.Errors {
		fmt.Printf("  %s\n", e)
	}
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Appointment reminder operations",
	}

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send reminders for appointments starting within the lookahead",
		RunE: func(cmd *cobra.Command, args []string) error {
			lookahead, _ := cmd.Flags().GetDuration("lookahead")

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if lookahead <= 0 {
				lookahead = cfg.ReminderLookahead
			}

			ctx := context.Background()
			c, err := buildComponents(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			sent, err := c.scheduling.SendDueReminders(ctx, time.Now(), lookahead)
			if err != nil {
				return err
			}
			fmt.Printf("Sent %d reminder(s).\n", sent)
			return nil
		},
	}
	sendCmd.Flags().Duration("lookahead", 0, "Reminder window; defaults to REMINDER_LOOKAHEAD")
	cmd.AddCommand(sendCmd)

	return cmd
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.OTelServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Endpoint:       cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up telemetry")
	}

	hub := websocket.NewHub(logger)
	c, err := buildComponents(ctx, cfg, logger, hub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}
	defer c.Close()

	if c.bus != nil {
		go func() {
			if err := c.bus.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event bus stopped")
			}
		}()
	}

	e := newEcho(cfg, c, hub)

	runner := jobs.NewRunner(logger)
	runner.Add(jobs.Job{
		Name:     "calendar-sync",
		Interval: cfg.Sync.Interval,
		Run: func(ctx context.Context) error {
			_, err := c.calendar.SyncAll(ctx, calendar.Bidirectional)
			return err
		},
	})
	runner.Add(jobs.Job{
		Name:     "appointment-reminders",
		Interval: cfg.ReminderInterval,
		Run: func(ctx context.Context) error {
			_, err := c.scheduling.SendDueReminders(ctx, time.Now(), cfg.ReminderLookahead)
			return err
		},
	})
	runner.Start(ctx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	runner.Wait()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the HTTP server with the middleware chain and every route.
func newEcho(cfg *config.Config, c *components, hub *websocket.Hub) *echo.Echo {
	logger := c.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(telemetry.TracingMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development auth enabled; requests are authenticated from X-User-ID")
		e.Use(auth.DevAuthMiddleware(cfg.DevUserID, auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
			Logger:     logger,
		}))
	}

	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(c.pool, c.healthDeps()))

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	apiV1 := e.Group("/api/v1")
	scheduling.NewHandler(c.scheduling).RegisterRoutes(apiV1)
	calendar.NewHandler(c.calendar).RegisterRoutes(apiV1)
	notification.NewHandler(c.notifications).RegisterRoutes(apiV1)

	return e
}
