package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	adapthttp "sprintsync/internal/adapter/http"
	"sprintsync/internal/adapter/memory"
	"sprintsync/internal/adapter/postgres"
	"sprintsync/internal/adapter/redis"
	"sprintsync/internal/adapter/ws"
	"sprintsync/internal/app"
	"sprintsync/internal/auth"
	"sprintsync/internal/domain"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	addr := env("ADDR", ":8080")

	secret := os.Getenv("AUTH_SECRET")
	if secret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	tokenTTL, err := time.ParseDuration(env("AUTH_TOKEN_TTL", "24h"))
	if err != nil {
		return err
	}

	var (
		sprintRepo domain.SprintRepository
		taskRepo   domain.TaskRepository
		userRepo   domain.UserRepository
	)
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		db, err := postgres.Open(connStr)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		sprintRepo, taskRepo, userRepo = db.SprintRepo(), db.TaskRepo(), db.UserRepo()
		log.Info("storage", "backend", "postgres")
	} else {
		db := memory.New()
		sprintRepo, taskRepo, userRepo = db.SprintRepo(), db.TaskRepo(), db.UserRepo()
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var cache domain.CacheStore
	if url := os.Getenv("REDIS_URL"); url != "" {
		rc, err := redis.Open(url)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		cache = rc
		log.Info("cache", "backend", "redis")
	} else {
		cache = memory.NewCache()
		log.Warn("REDIS_URL not set, using in-memory cache")
	}

	tokens := auth.NewTokenService(secret, tokenTTL)

	bus := app.NewEventBus()
	inval := app.NewCacheInvalidator(cache, log)
	presence := app.NewPresenceRegistry(cache, log)
	taskSvc := app.NewTaskService(taskRepo, sprintRepo, userRepo, cache, inval, bus, log)
	sprintSvc := app.NewSprintService(sprintRepo, taskRepo, cache, inval, bus, log)

	hub := ws.NewHub(tokens, userRepo, presence, taskSvc, sprintSvc, bus, ws.DefaultOptions(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oidcConfig, err := loadOIDC(ctx)
	if err != nil {
		return err
	}
	if oidcConfig.Enabled {
		log.Info("sso enabled", "issuer", os.Getenv("OIDC_ISSUER"))
	}

	handler := adapthttp.New(userRepo, tokens, oidcConfig, hub, log).Handler()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadOIDC builds the optional SSO configuration from the environment. SSO is
// enabled only when issuer, client id and client secret are all present.
func loadOIDC(ctx context.Context) (adapthttp.OIDCConfig, error) {
	issuer := os.Getenv("OIDC_ISSUER")
	clientID := os.Getenv("OIDC_CLIENT_ID")
	clientSecret := os.Getenv("OIDC_CLIENT_SECRET")
	if issuer == "" || clientID == "" || clientSecret == "" {
		return adapthttp.OIDCConfig{}, nil
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return adapthttp.OIDCConfig{}, err
	}
	return adapthttp.OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  env("OIDC_REDIRECT_URL", "http://localhost:8080/api/auth/sso/callback"),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
