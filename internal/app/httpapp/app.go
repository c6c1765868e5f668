package httpapp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"authd/internal/lib/sl"
)

// App wraps the HTTP server lifecycle.
type App struct {
	log     *slog.Logger
	server  *http.Server
	address string
}

// New creates a new HTTP server app serving the given handler.
func New(
	log *slog.Logger,
	handler http.Handler,
	address string,
	timeout time.Duration,
) *App {
	server := &http.Server{
		Addr:         address,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  time.Minute,
	}

	return &App{
		log:     log,
		server:  server,
		address: address,
	}
}

// MustRun runs the HTTP server and panics if any error occurs.
func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run runs the HTTP server.
func (a *App) Run() error {
	const op = "httpapp.Run"

	a.log.Info("http server started",
		slog.String("op", op),
		slog.String("address", a.address),
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"

	a.log.With(slog.String("op", op)).Info("stopping http server")

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error("failed to shut down http server", sl.Err(err))
	}
}
