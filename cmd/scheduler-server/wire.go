package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/config"
	"github.com/clinic/scheduler/internal/domain/calendar"
	"github.com/clinic/scheduler/internal/domain/clinic"
	"github.com/clinic/scheduler/internal/domain/notification"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/calendarprovider"
	"github.com/clinic/scheduler/internal/platform/db"
	"github.com/clinic/scheduler/internal/platform/events"
	"github.com/clinic/scheduler/internal/platform/telemetry"
)

// newLogger builds the process logger: JSON in production, console output in
// development.
func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return logger
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, newLogger(os.Getenv("ENV"), "info"), err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// components holds everything the server and the one-shot commands share.
type components struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	bus     *events.RedisBus
	metrics *telemetry.Metrics

	directory     clinic.Directory
	appointments  scheduling.AppointmentRepository
	dispatcher    *notification.Dispatcher
	scheduling    *scheduling.Service
	notifications *notification.Service
	calendar      *calendar.Service
}

func (c *components) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}

// buildComponents connects to the database and redis and constructs every
// service. local receives events when no redis bus is configured; it may be
// nil for commands that have no websocket clients.
func buildComponents(ctx context.Context, cfg *config.Config, logger zerolog.Logger, local events.Publisher) (*components, error) {
	c := &components{cfg: cfg, logger: logger}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	c.pool = pool
	logger.Info().Msg("connected to database")

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		c.redis = redis.NewClient(opts)
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.bus = events.NewRedisBus(c.redis, events.DefaultChannel, logger)
		logger.Info().Msg("connected to redis")
	}

	if c.metrics, err = telemetry.NewMetrics(); err != nil {
		c.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	switch {
	case c.bus != nil:
		publisher = c.bus
	case local != nil:
		publisher = local
	}

	c.directory = clinic.NewDirectoryPG(pool)
	c.appointments = scheduling.NewAppointmentRepoPG(pool)

	c.dispatcher = notification.NewDispatcher(notification.NewRepoPG(pool), c.directory,
		notification.WithPublisher(publisher),
		notification.WithDispatcherMetrics(c.metrics),
		notification.WithDispatcherLogger(logger),
	)
	loc, err := cfg.Location()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load calendar time zone: %w", err)
	}
	c.scheduling = scheduling.NewService(c.appointments, c.directory,
		scheduling.WithNotifier(c.dispatcher),
		scheduling.WithMetrics(c.metrics),
		scheduling.WithLogger(logger),
		scheduling.WithLocation(loc),
	)
	c.notifications = notification.NewService(notification.NewRepoPG(pool))

	if !cfg.CalendarEnabled() {
		logger.Warn().Msg("CALENDAR_CLIENT_ID not set; calendar connect will fail until configured")
	}
	provider := calendarprovider.NewGoogle(calendarprovider.Config{
		ClientID:     cfg.Calendar.ClientID,
		ClientSecret: cfg.Calendar.ClientSecret,
		RedirectURL:  cfg.Calendar.RedirectURL,
		AuthURL:      cfg.Calendar.AuthURL,
		TokenURL:     cfg.Calendar.TokenURL,
		APIBaseURL:   cfg.Calendar.APIBaseURL,
	})
	creds := calendar.NewCredentialStore(calendar.NewCredentialRepoPG(pool), provider,
		cfg.Calendar.TokenRefreshSkew, cfg.Calendar.RequestTimeout, c.metrics, logger)
	engine := calendar.NewEngine(c.appointments, creds, provider, c.directory, calendar.EngineConfig{
		Location:       loc,
		RequestTimeout: cfg.Calendar.RequestTimeout,
	}, c.metrics, logger)

	var locker calendar.Locker = calendar.NewLocalLocker()
	if c.redis != nil {
		locker = calendar.NewRedisLocker(c.redis)
	}
	c.calendar = calendar.NewService(creds, engine, provider, c.directory, locker, calendar.ServiceConfig{
		DefaultFutureDays: cfg.Sync.DefaultFutureDays,
		Concurrency:       cfg.Sync.Concurrency,
		LockTTL:           cfg.Sync.LockTTL,
		RequestTimeout:    cfg.Calendar.RequestTimeout,
	}, logger)

	return c, nil
}

// healthDeps lists the dependencies reported by /health/db.
func (c *components) healthDeps() map[string]db.Pinger {
	deps := map[string]db.Pinger{"postgres": c.pool}
	if c.bus != nil {
		deps["redis"] = c.bus
	}
	return deps
}
