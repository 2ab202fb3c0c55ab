// Package api exposes diagnostics runs over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/troubleshoot"
)

// runService is the subset of *app.Runner used by the handlers.
type runService interface {
	Start(ctx context.Context, opts app.RunOptions) (*troubleshoot.Troubleshooter, error)
	Current() (*troubleshoot.Troubleshooter, bool)
	Last() (troubleshoot.Report, bool)
	InProgress() bool
}

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the middleware chain and all routes
// registered. Runs started over HTTP live on base, not on the request
// context, so they outlive the request that started them.
func NewRouter(base context.Context, runner runService, store storage.Storage, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(logger))
	engine.Use(RequestLogger(logger))

	h := &Handler{base: base, runner: runner, store: store, logger: logger}

	engine.GET("/health", h.Health)

	v1 := engine.Group("/api/v1")
	v1.POST("/runs", h.StartRun)
	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/current", h.CurrentRun)
	v1.GET("/runs/:id", h.GetRun)

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg ServerConfig, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
