package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillhq/quill/internal/api"
	"github.com/quillhq/quill/internal/enrich"
	"github.com/quillhq/quill/internal/observability"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting HTTP API server", "version", AppVersion, "addr", a.cfg.ServerAddr)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint:    a.cfg.OTLPEndpoint,
		Environment: a.cfg.Environment,
		ServiceName: observability.DefaultServiceName,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			a.logger.Warn("trace flush failed", "error", err)
		}
	}()

	store, err := a.connectStore(ctx)
	if err != nil {
		return err
	}

	var gen enrich.Generator = a.providers[a.cfg.Provider]
	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      a.logger,
		Providers:   a.providers,
		Default:     a.cfg.Provider,
		History:     store,
		Suggester:   enrich.NewSuggester(gen, a.logger),
		Images:      enrich.NewImageFinder(nil, a.logger),
		WorkspaceID: defaultWorkspace,
		CORSOrigins: a.cfg.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.ServerAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
