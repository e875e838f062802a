package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/tradegrid/internal/api"
	"github.com/vk/tradegrid/internal/ctxlog"
	"github.com/vk/tradegrid/internal/inmemorystore"
	"github.com/vk/tradegrid/internal/redisstore"
	"github.com/vk/tradegrid/internal/report"
	"github.com/vk/tradegrid/internal/report/socketio"
	"github.com/vk/tradegrid/internal/session"
	"github.com/vk/tradegrid/internal/state"
	"github.com/vk/tradegrid/internal/store"
)

// Run executes the main application logic based on the provided configuration.
// In service mode it blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if a.config.Analysis != nil {
		return a.runOnce(ctx, *a.config.Analysis)
	}
	return a.serve(ctx)
}

// Start connects the store and progress sinks and creates the session
// manager. It is idempotent.
func (a *App) Start(ctx context.Context) error {
	if a.manager != nil {
		return nil
	}
	logger := ctxlog.FromContext(ctx)

	var st store.Store
	if a.config.RedisAddr != "" {
		rs, err := redisstore.Dial(ctx, redisstore.Config{
			Address:  a.config.RedisAddr,
			Password: a.config.RedisPassword,
			DB:       a.config.RedisDB,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs.Close)
		st = rs
		logger.Info("Using redis store", "address", a.config.RedisAddr)
	} else {
		st = inmemorystore.New()
		logger.Debug("Using in-memory store.")
	}

	var sinks []report.Sink
	if a.config.SocketIOURL != "" {
		pub, err := socketio.Connect(ctx, socketio.Config{URL: a.config.SocketIOURL, Namespace: a.config.SocketIONamespace})
		if err != nil {
			a.Close(ctx)
			return err
		}
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
		sinks = append(sinks, pub)
	}

	m, err := session.New(session.Config{
		Engine:     a.engine,
		Controller: a.controller,
		Catalog:    a.catalog,
		Reporter:   report.New(st, a.metrics, sinks...),
		Retention:  a.config.Retention,
	})
	if err != nil {
		a.Close(ctx)
		return err
	}
	a.manager = m
	a.ready.Store(true)
	logger.Info("✅ Ready to accept analyses.", "max_runs", a.config.MaxRuns)
	return nil
}

// Close cancels in-flight runs and releases connections opened by Start.
func (a *App) Close(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	a.ready.Store(false)
	if a.manager != nil {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.manager.Shutdown(sctx); err != nil {
			logger.Error("Session manager shutdown failed", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

// Handler returns the HTTP API, including the health endpoint. Start must
// have been called.
func (a *App) Handler() http.Handler {
	r := api.NewRouter(a.manager, api.Options{Logger: a.logger, Gatherer: a.gatherer})
	r.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)
	return r
}

func (a *App) serve(ctx context.Context) error {
	a.apiServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("🚀 API server starting", "address", fmt.Sprintf("http://localhost%s/api", a.apiServer.Addr))
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("🏁 Shutting down API server...")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return a.apiServer.Shutdown(sctx)
}

func (a *App) runOnce(ctx context.Context, req session.Request) error {
	id, err := a.manager.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit analysis: %w", err)
	}
	res, err := a.manager.Wait(ctx, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if res.Status != state.StatusCompleted {
		return fmt.Errorf("analysis %s ended %s: %s", id, res.Status, res.Cause)
	}
	return nil
}
