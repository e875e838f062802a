package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/tradegrid/internal/concurrency"
	"github.com/vk/tradegrid/internal/config"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/engine"
	"github.com/vk/tradegrid/internal/metrics"
	"github.com/vk/tradegrid/internal/pipeline"
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/internal/session"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	ctx    context.Context
	logger *slog.Logger
	config *Config

	registry   *registry.Registry
	catalog    *pipeline.Catalog
	gatherer   *prometheus.Registry
	metrics    *metrics.Metrics
	controller *concurrency.Controller
	engine     *engine.Engine

	// Set by Start.
	manager *session.Manager
	closers []func() error
	ready   atomic.Bool

	httpServer *http.Server
	apiServer  *http.Server
}

// NewApp is the constructor for the main application. It loads and validates
// the pipeline and wires the engine. Configuration errors are programmer or
// operator errors and cause a panic; the CLI turns them into exit code 1.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model := pipeline.Default()
	if cfg.PipelinePath != "" {
		loaded, err := loader.Load(ctx, cfg.PipelinePath)
		if err != nil {
			panic(fmt.Errorf("failed to load configuration: %w", err))
		}
		model = loaded
		logger.Debug("Pipeline loaded and translated into unified model.", "path", cfg.PipelinePath)
	} else {
		logger.Debug("No pipeline path given, using the built-in pipeline.")
	}

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := registry.New(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules), "kinds", reg.Kinds())

	catalog, err := pipeline.NewCatalog(ctx, model, reg)
	if err != nil {
		panic(err)
	}

	a := &App{
		outW:     outW,
		ctx:      ctx,
		logger:   logger,
		config:   cfg,
		registry: reg,
		catalog:  catalog,
		gatherer: prometheus.NewRegistry(),
	}
	a.gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.gatherer)

	a.controller, err = concurrency.New(concurrency.Config{
		MaxRuns:       cfg.MaxRuns,
		AdmissionWait: cfg.AdmissionWait,
		MaxQueued:     cfg.MaxQueued,
		Pools:         a.pools(),
		Metrics:       a.metrics,
	})
	if err != nil {
		panic(fmt.Errorf("failed to configure concurrency controller: %w", err))
	}

	a.engine, err = engine.New(a.controller, a.engineConfig(model))
	if err != nil {
		panic(fmt.Errorf("failed to configure engine: %w", err))
	}
	logger.Debug("Application wired.", "max_runs", cfg.MaxRuns, "step_ceiling", a.engine.StepCeiling())
	return a
}

// engineConfig applies the pipeline's engine block over the flag values.
func (a *App) engineConfig(model *config.Model) engine.Config {
	ec := engine.Config{
		StepCeiling: a.config.StepCeiling,
		RunTimeout:  a.config.RunTimeout,
		Metrics:     a.metrics,
	}
	if model.Engine != nil {
		if model.Engine.StepCeiling > 0 {
			ec.StepCeiling = model.Engine.StepCeiling
		}
		if model.Engine.RunTimeout > 0 {
			ec.RunTimeout = model.Engine.RunTimeout
		}
	}
	return ec
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Manager returns the session manager, or nil before Start.
func (a *App) Manager() *session.Manager {
	return a.manager
}
