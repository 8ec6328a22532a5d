package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"opsdesk/config"
	"opsdesk/notify"
	"opsdesk/telemetry"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WebSocket endpoint and notification workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides http.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(telemetry.Options{
		Enabled:  cfg.Telemetry.Enabled,
		Interval: cfg.Telemetry.Interval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", slog.Any("error", err))
		}
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("shutdown telemetry", slog.Any("error", err))
		}
	}()

	srv := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	logger.Info("http server listening", slog.String("addr", ln.Addr().String()), slog.String("env", cfg.Env))
	return serve(ctx, srv, ln, a.dispatcher, cfg.HTTP.ShutdownTimeout, logger)
}

// serve runs srv on ln until ctx is done. The dispatcher keeps accepting
// events until every in-flight request has finished.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, dispatcher *notify.Dispatcher, shutdownTimeout time.Duration, logger *slog.Logger) error {
	dispatcher.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		dispatcher.Close()
		return err
	})
	return g.Wait()
}
