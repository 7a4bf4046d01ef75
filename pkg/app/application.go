package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/osvaldoandrade/gdtrelay/internal/analyzer"
	"github.com/osvaldoandrade/gdtrelay/internal/metrics"
	"github.com/osvaldoandrade/gdtrelay/internal/middleware"
	"github.com/osvaldoandrade/gdtrelay/internal/providers"
	"github.com/osvaldoandrade/gdtrelay/internal/ratelimit"
	"github.com/osvaldoandrade/gdtrelay/internal/services"
	"github.com/osvaldoandrade/gdtrelay/internal/storage"
	"github.com/osvaldoandrade/gdtrelay/internal/tracing"
	"github.com/osvaldoandrade/gdtrelay/pkg/config"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"
	_ "github.com/osvaldoandrade/gdtrelay/pkg/persistence/memory"
	_ "github.com/osvaldoandrade/gdtrelay/pkg/persistence/redis"
	_ "github.com/osvaldoandrade/gdtrelay/pkg/persistence/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Inspections services.InspectionService
	Artifacts   services.ArtifactService
	Retention   services.RetentionService
	Persistence persistence.PluginPersistence
	Runner      analyzer.Runner
	Logger      *slog.Logger
	TZ          *time.Location
	RateLimiter ratelimit.Limiter

	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithRunner replaces the process runner used to start the analyzer.
func WithRunner(r analyzer.Runner) ApplicationOption {
	return func(app *Application) error {
		app.Runner = r
		return nil
	}
}

// WithPersistence sets a custom inspection store instead of the configured plugin.
func WithPersistence(p persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Persistence = p
		return nil
	}
}

// WithRateLimiter sets a custom limiter
func WithRateLimiter(l ratelimit.Limiter) ApplicationOption {
	return func(app *Application) error {
		app.RateLimiter = l
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{
		Config: cfg,
		Logger: logger,
		TZ:     loc,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Persistence == nil {
		p, err := newPersistence(cfg, loc)
		if err != nil {
			return nil, err
		}
		app.Persistence = p
	}
	if app.Runner == nil {
		app.Runner = analyzer.ExecRunner{}
	}
	if app.RateLimiter == nil && cfg.RedisAddr != "" {
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword))
	}

	stager := storage.NewStager(cfg.StagingDir)
	artifacts := storage.NewArtifactStore(cfg.OutputDir)
	invoker := analyzer.NewInvoker(app.Runner, analyzer.Options{
		Command:       cfg.Analyzer.Command,
		Args:          cfg.Analyzer.Args,
		WorkDir:       cfg.Analyzer.WorkDir,
		Timeout:       time.Duration(cfg.Analyzer.TimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.Analyzer.MaxConcurrent,
		QueueSize:     cfg.Analyzer.QueueSize,
	})
	store := app.Persistence.InspectionStorage()

	app.Inspections = services.NewInspectionService(stager, artifacts, invoker, store, services.InspectionOptions{
		KeepUploads:       cfg.Retention.KeepUploads,
		ArtifactTTL:       time.Duration(cfg.Retention.ArtifactTTLSeconds) * time.Second,
		SharedSummaryPath: cfg.Analyzer.SharedSummaryPath,
		SharedQueueSize:   cfg.Analyzer.QueueSize,
	}, logger, time.Now)
	app.Artifacts = services.NewArtifactService(artifacts, store, logger)
	app.Retention = services.NewRetentionService(store, artifacts, stager, logger, cfg.Retention.SweepIntervalSeconds, time.Now)

	metrics.RegisterStorageCollector(map[string]string{
		"staging": cfg.StagingDir,
		"output":  cfg.OutputDir,
	}, logger)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(cfg.Tracing.ServiceName),
	)
	app.Engine = engine

	return app, nil
}

// Handler wraps the engine with CORS handling for browser clients served
// from another origin.
func (app *Application) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: app.Config.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After", "Content-Disposition"},
		MaxAge:         300,
	}).Handler(app.Engine)
}

func (app *Application) Close() error {
	if app.Persistence == nil {
		return nil
	}
	return app.Persistence.Close()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "gdtrelay", "env", cfg.Env)
}

func newPersistence(cfg *config.Config, loc *time.Location) (persistence.PluginPersistence, error) {
	options := make(map[string]any, len(cfg.Persistence.Options)+2)
	for k, v := range cfg.Persistence.Options {
		options[k] = v
	}
	if cfg.Persistence.Type == "redis" {
		if _, ok := options["addr"]; !ok {
			options["addr"] = cfg.RedisAddr
		}
		if _, ok := options["password"]; !ok && cfg.RedisPassword != "" {
			options["password"] = cfg.RedisPassword
		}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("persistence options: %w", err)
	}
	return persistence.NewPersistence(
		persistence.ProviderConfig{Type: cfg.Persistence.Type, Config: raw},
		persistence.PluginConfig{Timezone: loc},
	)
}
