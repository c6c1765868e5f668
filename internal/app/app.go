package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"authd/internal/app/httpapp"
	"authd/internal/cache/mongokv"
	"authd/internal/cache/sqlitekv"
	"authd/internal/config"
	"authd/internal/events/logbus"
	"authd/internal/events/mongobus"
	"authd/internal/http/authapi"
	jwtlib "authd/internal/lib/jwt"
	"authd/internal/notify"
	"authd/internal/services/auth"
	"authd/internal/services/passkey"
	"authd/internal/services/reset"
	"authd/internal/storage/mongodb"
	"authd/internal/storage/sqlite"

	"github.com/go-webauthn/webauthn/webauthn"
)

// App owns the HTTP server and the resources behind it.
type App struct {
	HTTPServer *httpapp.App

	closers []func(context.Context) error
}

// storageSet is the backend-agnostic bundle the services are wired against.
type storageSet struct {
	users       userStore
	tokens      auth.RefreshTokenLedger
	credentials passkey.CredentialStore
	secrets     secretStore
	events      auth.EventPublisher
}

type userStore interface {
	auth.UserSaver
	auth.UserProvider
	auth.UserUpdater
}

type secretStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetDel(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New builds the application from config: storage backend, ephemeral secret
// store, event bus, the three lifecycle services and the HTTP surface.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	a := &App{}

	set, err := a.setupStorage(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	verifier, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.Passkey.RPDisplayName,
		RPID:          cfg.Passkey.RPID,
		RPOrigins:     cfg.Passkey.Origins,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: webauthn: %w", op, err)
	}

	issuer := jwtlib.NewIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessTokenTTL)

	authService := auth.New(
		log,
		set.users,
		set.users,
		set.users,
		set.tokens,
		issuer,
		set.events,
		cfg.JWT.RefreshTokenTTL,
		cfg.RefreshPepper,
	)

	passkeyService := passkey.New(
		log,
		set.users,
		set.credentials,
		set.secrets,
		verifier,
		cfg.Passkey.ChallengeTTL,
	)

	resetService := reset.New(
		log,
		set.users,
		set.users,
		set.secrets,
		notify.NewBusSender(set.events),
		cfg.Reset.CodeTTL,
	)

	mux := http.NewServeMux()
	server := authapi.NewServer(log, authService, passkeyService, resetService, cfg.JWT.Secret)
	server.RegisterRoutes(mux)

	a.HTTPServer = httpapp.New(log, mux, cfg.HTTP.Address, cfg.HTTP.Timeout)

	return a, nil
}

// Stop releases storage connections after the HTTP server is down.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	for _, closer := range a.closers {
		if err := closer(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) setupStorage(ctx context.Context, log *slog.Logger, cfg *config.Config) (*storageSet, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			return store.Close()
		})

		return &storageSet{
			users:       store,
			tokens:      store,
			credentials: store,
			secrets:     sqlitekv.New(store.DB()),
			events:      logbus.New(log),
		}, nil

	case "mongo":
		store, err := mongodb.New(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongodb: %w", err)
		}
		a.closers = append(a.closers, store.Close)

		secrets, err := mongokv.New(ctx, store.Database())
		if err != nil {
			return nil, fmt.Errorf("mongodb cache: %w", err)
		}

		return &storageSet{
			users:       store,
			tokens:      store,
			credentials: store,
			secrets:     secrets,
			events:      mongobus.New(log, store.Database()),
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
