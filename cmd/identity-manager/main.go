package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/identity-manager/idm"
	"github.com/tendant/identity-manager/internal/config"
	"github.com/tendant/identity-manager/internal/notification"
	"github.com/tendant/identity-manager/pkg/auth"
	"github.com/tendant/identity-manager/pkg/domain"
	"github.com/tendant/identity-manager/pkg/repository"
)

func main() {
	// Load configuration (.env is read if present)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	var db *sql.DB
	if cfg.StoreBackend == config.StorePostgres {
		var err error
		db, err = repository.NewDB(repository.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("connected to database")
	}

	var redisClient *redis.Client
	if cfg.SessionBackend == config.SessionRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info("connected to redis")
	}

	// Notifications go through a worker pool so handlers never wait on SMTP.
	var sender notification.Sender
	if cfg.HasSMTP() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
		logger.Info("email service enabled")
	} else {
		sender = notification.NewLogSender(logger)
		logger.Warn("SMTP not configured, notifications are only logged")
	}
	dispatcher := notification.NewDispatcher(sender, notification.DispatcherConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
	}, logger)

	accounts, err := idm.New(ctx, idm.Config{
		DB:             db,
		Migrate:        cfg.MigrateOnStart,
		Redis:          redisClient,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		AccessTokenTTL: cfg.AccessTokenTTL,
		SessionTTL:     cfg.SessionTTL,
		RememberMeTTL:  cfg.RememberMeTTL,
		Account: auth.AccountConfig{
			RequireConfirmedAccount: cfg.RequireConfirmedAccount,
			EmailConfirmationTTL:    cfg.EmailConfirmationTTL,
			PasswordResetTTL:        cfg.PasswordResetTTL,
			AppBaseURL:              cfg.AppBaseURL,
			NotifyTimeout:           cfg.Notify.Timeout,
			MinResponseDuration:     cfg.MinResponseDuration,
			StrictEmail:             cfg.Validation.StrictEmail,
			BlockDisposable:         cfg.Validation.BlockDisposable,
		},
		Lockout: domain.LockoutPolicy{
			MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
			Duration:          cfg.Lockout.Duration,
		},
		PasswordPolicy:     auth.NewPasswordPolicy(cfg.PasswordPolicy),
		Notifier:           dispatcher,
		SecurityHeaders:    cfg.SecurityHeaders,
		Validation:         cfg.Validation,
		CookieSecure:       cfg.CookieSecure,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	go accounts.RunCleanup(ctx, cfg.CleanupInterval)

	// Create HTTP server
	addr := cfg.ListenAddr()
	server := &http.Server{
		Addr:         addr,
		Handler:      accounts.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification queue not drained", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
