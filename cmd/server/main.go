package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andyleap/identity/internal/api"
	"github.com/andyleap/identity/internal/auth"
	"github.com/andyleap/identity/internal/challenge"
	"github.com/andyleap/identity/internal/identity"
	"github.com/andyleap/identity/internal/keyset"
	"github.com/andyleap/identity/internal/session"
	"github.com/andyleap/identity/internal/storage"
	"github.com/andyleap/identity/internal/token"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup WebAuthn
	wconfig := &webauthn.Config{
		RPDisplayName: "Identity Service",
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	}

	webAuthn, err := webauthn.New(wconfig)
	if err != nil {
		slog.Error("Failed to create WebAuthn instance", "error", err)
		os.Exit(1)
	}

	// Setup persistence
	store, err := storage.OpenSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Using SQLite storage", "path", cfg.DBPath)

	// Setup challenge storage
	var challenges challenge.Store
	switch cfg.ChallengeMode {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		challenges = challenge.NewRedisStore(redisClient, cfg.ChallengeTTL)
		slog.Info("Using Redis challenges", "addr", cfg.Redis.Addr)
	case "memory":
		memStore := challenge.NewMemoryStore(cfg.ChallengeTTL)
		go memStore.Run(ctx, cfg.ChallengeSweep)
		challenges = memStore
		slog.Warn("Using in-memory challenges (single instance only)")
	default:
		slog.Error("Invalid CHALLENGE_MODE", "mode", cfg.ChallengeMode, "valid_modes", []string{"memory", "redis"})
		os.Exit(1)
	}

	// Setup token providers
	providers, err := LoadProviders(cfg.ProvidersFile)
	if err != nil {
		slog.Error("Failed to load providers", "error", err)
		os.Exit(1)
	}
	verifiers := make([]*token.Verifier, 0, len(providers))
	for _, provider := range providers {
		keys := keyset.New(provider.JWKSURL(), cfg.KeysetTTL, nil)
		verifiers = append(verifiers, token.New(provider, keys))
		slog.Info("Token provider configured", "name", provider.Name, "issuer", provider.Issuer())
	}
	if len(verifiers) == 0 {
		slog.Warn("No token providers configured; bearer auth disabled")
	}

	// Setup services
	resolver := identity.NewResolver(store)
	passkeys := auth.NewPasskeyService(webAuthn, store, challenges)
	sessions := session.NewIssuer(store, cfg.SessionTTL, cfg.CookieDomain, !cfg.CookieInsecure)
	apiServer := api.NewServer(passkeys, sessions, token.NewMulti(verifiers...), resolver)

	// Setup routes
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/register/begin", apiServer.Authenticate(http.HandlerFunc(apiServer.RegisterBeginHandler)))
	mux.HandleFunc("POST /api/v1/register/finish", apiServer.RegisterFinishHandler)
	mux.HandleFunc("POST /api/v1/login/begin", apiServer.LoginBeginHandler)
	mux.HandleFunc("POST /api/v1/login/finish", apiServer.LoginFinishHandler)
	mux.HandleFunc("POST /api/v1/logout", apiServer.LogoutHandler)
	mux.HandleFunc("GET /api/v1/session/validate", apiServer.ValidateSessionHandler)
	mux.Handle("GET /api/v1/userinfo", apiServer.Authenticate(http.HandlerFunc(apiServer.UserInfoHandler)))
	mux.HandleFunc("GET /health", apiServer.HealthHandler)

	// Apply middleware
	handler := api.LoggingMiddleware(api.CORSMiddleware(mux))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		fmt.Printf("Identity service starting on http://localhost:%s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}
