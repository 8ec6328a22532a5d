package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"opsdesk/auth"
	"opsdesk/config"
	"opsdesk/db"
	"opsdesk/httpapi"
	"opsdesk/notify"
	"opsdesk/realtime"
	"opsdesk/telemetry"
	"opsdesk/workitem"
)

// app is the assembled process. closers run in reverse order on shutdown.
type app struct {
	handler    http.Handler
	dispatcher *notify.Dispatcher
	workItems  *workitem.Service
	members    *auth.Service
	closers    []func() error
}

func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	metrics, err := telemetry.NewMetrics(telemetry.Meter(""))
	if err != nil {
		return nil, err
	}

	var (
		store   workitem.Store
		members auth.Repository
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return nil, err
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", slog.Any("names", applied))
		}
		store = workitem.NewPGStore(pool)
		members = auth.NewRepository(pool)
	case config.DriverMemory:
		store = workitem.NewMemoryStore()
		members = auth.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	broker, err := newBroker(ctx, cfg.Realtime, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, broker.Close)

	a.dispatcher = notify.NewDispatcher(broker, notify.Config{
		Workers:        cfg.Notify.Workers,
		QueueSize:      cfg.Notify.QueueSize,
		MaxRetries:     cfg.Notify.MaxRetries,
		RetryInterval:  cfg.Notify.RetryInterval,
		PublishTimeout: cfg.Notify.PublishTimeout,
	}, logger.With(slog.String("component", "notify"))).WithRecorder(metrics)

	a.workItems = workitem.NewService(store, notify.NewNotifier(a.dispatcher, logger)).
		WithRecorder(metrics).
		WithLogger(logger.With(slog.String("component", "workitem")))

	a.members = auth.NewService(members, cfg.Auth.JWTSecret).WithTokenTTL(cfg.Auth.TokenTTL)
	if err := bootstrapManager(ctx, a.members, cfg.Auth.Bootstrap, logger); err != nil {
		return nil, err
	}

	sessions := realtime.NewSessions(broker, cfg.Realtime.SessionBuffer, logger)
	ws := realtime.NewWebSocketHandler(sessions, httpapi.Authenticator(a.members), logger).
		WithAllowedOrigins(cfg.HTTP.AllowedOrigins...)

	a.handler = httpapi.NewServer(a.workItems, a.members, ws, logger).Routes()
	return a, nil
}

// bootstrapManager creates the configured first manager. An existing account
// with that email is left untouched.
func bootstrapManager(ctx context.Context, members *auth.Service, cfg config.BootstrapConfig, logger *slog.Logger) error {
	if cfg.Email == "" {
		return nil
	}
	member, err := members.Provision(ctx, auth.RegisterRequest{
		Email:    cfg.Email,
		Password: cfg.Password,
		FullName: cfg.FullName,
		Role:     auth.Role(cfg.Role),
	})
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		return nil
	case err != nil:
		return fmt.Errorf("bootstrap manager: %w", err)
	}
	logger.Info("created bootstrap manager", slog.String("member_id", member.ID), slog.String("role", string(member.Role)))
	return nil
}

func newBroker(ctx context.Context, cfg config.RealtimeConfig, logger *slog.Logger) (realtime.Broker, error) {
	logger = logger.With(slog.String("component", "realtime"), slog.String("driver", cfg.Driver))
	switch cfg.Driver {
	case config.DriverMemory:
		return realtime.NewHub(), nil
	case config.DriverRedis:
		return realtime.NewRedisBroker(ctx, realtime.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	case config.DriverNATS:
		return realtime.NewNATSBroker(realtime.NATSOptions{
			URL:   cfg.NATS.URL,
			Token: cfg.NATS.Token,
			Name:  "opsdesk",
		}, logger)
	}
	return nil, fmt.Errorf("unknown realtime driver %q", cfg.Driver)
}
