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

	"github.com/joho/godotenv"

	"github.com/osvaldoandrade/gdtrelay/pkg/app"
	"github.com/osvaldoandrade/gdtrelay/pkg/config"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfigOptional(os.Getenv("GDTRELAY_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	app.SetupMappings(application)
	logger := application.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go application.Retention.Start(ctx)

	// Uploads block until the analyzer answers, so the write deadline has to
	// outlast the analyzer timeout.
	analyzerTimeout := time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      analyzerTimeout + time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gdtrelay listening",
			"addr", srv.Addr,
			"analyzer", cfg.Analyzer.Command,
			"analyzer_timeout", analyzerTimeout,
			"persistence", cfg.Persistence.Type,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown requested, draining in-flight inspections", "grace", shutdownGrace)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	if err := application.Close(); err != nil {
		logger.Warn("persistence close failed", "err", err)
	}
	if application.TracingShutdown != nil {
		if err := application.TracingShutdown(shutdownCtx); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}
	logger.Info("gdtrelay stopped")
	return nil
}
