package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veerhq/veer/internal/auth"
	"github.com/veerhq/veer/internal/cache"
	"github.com/veerhq/veer/internal/config"
	"github.com/veerhq/veer/internal/database"
	"github.com/veerhq/veer/internal/form"
	"github.com/veerhq/veer/internal/integration"
	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/oauth"
	"github.com/veerhq/veer/internal/ratelimit"
	"github.com/veerhq/veer/internal/secrets"
	"github.com/veerhq/veer/internal/store/postgres"
	"github.com/veerhq/veer/internal/tokens"
	"github.com/veerhq/veer/internal/web"
	"github.com/veerhq/veer/internal/web/handlers"
	"github.com/veerhq/veer/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := postgres.NewDB(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	userStore := postgres.NewUserStore(db)
	sessionStore := postgres.NewSessionStore(db)
	integrationStore := postgres.NewIntegrationStore(db)
	formStore := postgres.NewFormStore(db)
	submissionStore := postgres.NewSubmissionStore(db)

	// Credential encryption. A bad key only breaks credential operations.
	var cipher tokens.Cipher
	if c, err := secrets.NewCipherFromHex(cfg.EncryptionKey); err != nil {
		slog.Error("credential encryption unavailable", "error", err)
		cipher = secrets.Unavailable{Err: err}
	} else {
		cipher = c
	}

	// Cache invalidation
	var invalidator cache.Invalidator = cache.NewMemoryBus()
	if cfg.RedisURL != "" {
		bus, err := cache.NewRedisBusFromURL(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		invalidator = bus
	}

	// OAuth clients
	google := oauth.NewGoogleClient(oauth.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  oauth.CallbackURL(cfg.BaseURL, oauth.Google),
	})
	microsoft := oauth.NewMicrosoftClient(oauth.Config{
		ClientID:     cfg.Microsoft.ClientID,
		ClientSecret: cfg.Microsoft.ClientSecret,
		Tenant:       cfg.Microsoft.Tenant,
		RedirectURL:  oauth.CallbackURL(cfg.BaseURL, oauth.Microsoft),
	})
	for _, c := range []*oauth.Client{google, microsoft} {
		if !c.IsConfigured() {
			slog.Warn("oauth provider not configured", "provider", c.Name())
		}
	}

	// Services
	authService := auth.NewService(userStore, sessionStore, cfg.SessionMaxAge)
	tokenManager := tokens.NewManager(integrationStore, cipher, invalidator, map[models.IntegrationProvider]tokens.Refresher{
		models.ProviderGmail:   google,
		models.ProviderOutlook: microsoft,
	})
	dispatcher := mail.NewDispatcher(
		mail.NewSMTPSender(cipher, cfg.SMTPTimeout),
		mail.NewGmailSender(tokenManager),
		mail.NewGraphSender(tokenManager),
	)
	integrationService := integration.NewService(integrationStore, cipher, dispatcher, invalidator, google, microsoft)
	mailService := mail.NewService(dispatcher, integrationStore, userStore)
	formService := form.NewService(formStore, submissionStore, mailService, invalidator)

	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	// Router
	router := web.NewRouter(web.RouterDeps{
		AuthHandler:        handlers.NewAuthHandler(authService, cfg.SecureCookies),
		IntegrationHandler: handlers.NewIntegrationHandler(integrationService, cfg.SecureCookies),
		FormHandler:        handlers.NewFormHandler(formService),
		SubmissionHandler:  handlers.NewSubmissionHandler(formService),
		AuthService:        authService,
		Limiter:            limiter,
		SecureCookies:      cfg.SecureCookies,
		DB:                 db,
	})

	go authService.RunSessionCleanup(ctx, time.Hour)

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("veer starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
