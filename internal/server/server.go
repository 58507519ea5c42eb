// Package server runs the HTTP API of a workspace together with its file
// watcher.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"arbor/internal/api"
	"arbor/internal/config"
	"arbor/internal/logging"
	"arbor/internal/middleware"
	"arbor/internal/workspace"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Handler builds the full HTTP handler: API routes, /metrics and the
// middleware chain.
func Handler(ws *workspace.Workspace, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	api.NewHandler(ws, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Chain(
		mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)
}

// Run serves on cfg.Addr() until ctx is done or either the server or the
// watcher fails. If ready is not nil it receives the bound address.
func Run(ctx context.Context, ws *workspace.Workspace, cfg *config.Config, logger *logging.Logger, ready chan<- string) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           Handler(ws, logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("address", ln.Addr().String()))
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ws.Watcher().Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
