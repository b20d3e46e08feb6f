package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"idverify/internal/app"
	"idverify/internal/platform/config"
	"idverify/internal/platform/httpserver"
	"idverify/internal/platform/logger"
)

// main wires high-level dependencies, exposes the HTTP router and keeps the
// server lifecycle small. Business logic lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("assemble app: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to release backends", "error", err)
		}
	}()

	srv := httpserver.New(cfg.Server, a.Router(), log)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Queue.Run(gctx)
	})
	g.Go(func() error {
		// Verifications left in processing by a previous instance are
		// re-queued once the dispatcher is up.
		n, err := a.Processor.Recover(gctx)
		if err != nil {
			log.Error("failed to recover in-flight verifications", "error", err)
			return nil
		}
		if n > 0 {
			log.Info("re-queued in-flight verifications", "count", n)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting idverify", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return shutdown(a, srv, cfg, log)
	})

	return g.Wait()
}

// shutdown stops intake first, then drains running decisions and pending
// webhook deliveries, each bounded by the configured timeout.
func shutdown(a *app.App, srv *http.Server, cfg config.Config, log *slog.Logger) error {
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	qctx, qcancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer qcancel()
	if err := a.Queue.Shutdown(qctx); err != nil {
		errs = append(errs, err)
	}

	wctx, wcancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer wcancel()
	if err := a.Notifier.Wait(wctx); err != nil {
		log.Warn("webhook deliveries still pending at shutdown", "error", err)
	}
	return errors.Join(errs...)
}
