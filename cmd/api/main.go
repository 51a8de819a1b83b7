package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/piggybank/internal/auth"
	"github.com/josh-kwaku/piggybank/internal/config"
	"github.com/josh-kwaku/piggybank/internal/domain"
	"github.com/josh-kwaku/piggybank/internal/events"
	"github.com/josh-kwaku/piggybank/internal/handler"
	"github.com/josh-kwaku/piggybank/internal/logging"
	"github.com/josh-kwaku/piggybank/internal/middleware"
	"github.com/josh-kwaku/piggybank/internal/repository"
	"github.com/josh-kwaku/piggybank/internal/service"
	"github.com/josh-kwaku/piggybank/internal/service/ledger"
)

const version = "1.0.0"

type publisher interface {
	PublishEntryRecorded(ctx context.Context, entry *domain.LedgerEntry) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("piggybank-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	var pub publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		slog.Info("publishing ledger events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			slog.Error("failed to close event publisher", "error", err)
		}
	}()

	children := repository.NewChildRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	ledgerSvc := ledger.NewService(
		repository.NewDB(db),
		children,
		repository.NewLedgerRepository(db),
		pub,
		ledger.Options{
			LockTimeout:     cfg.LedgerLockTimeout,
			DefaultPageSize: cfg.LedgerDefaultPageSize,
			MaxPageSize:     cfg.LedgerMaxPageSize,
		},
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	janitor := service.NewIdempotencyJanitor(idempotency, logger, cfg.IdempotencyCleanupInterval)
	go janitor.Start(ctx)

	txHandler := handler.NewTransactionHandler(ledgerSvc, children, cfg.LedgerRecordMaxRetries)
	healthHandler := handler.NewHealthHandler(db, version)

	authed := middleware.Auth(cfg.JWTSecret)
	asParent := middleware.RequireRole(auth.RoleParent)
	asChild := middleware.RequireRole(auth.RoleChild)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.HandleFunc("GET /docs", handler.ServeDocs())
	mux.HandleFunc("GET /docs/openapi.yaml", handler.ServeSpec())

	mux.Handle("POST /api/v1/transactions",
		authed(asParent(middleware.Idempotency(idempotency)(http.HandlerFunc(txHandler.Create)))))
	mux.Handle("GET /api/v1/transactions/family", authed(asParent(http.HandlerFunc(txHandler.ListForFamily))))
	mux.Handle("GET /api/v1/transactions/mine", authed(asChild(http.HandlerFunc(txHandler.ListMine))))
	mux.Handle("GET /api/v1/transactions/child/{id}", authed(http.HandlerFunc(txHandler.ListForChild)))
	mux.Handle("GET /api/v1/transactions/{id}", authed(http.HandlerFunc(txHandler.Get)))
	mux.Handle("GET /api/v1/children/{id}/balance", authed(http.HandlerFunc(txHandler.Balance)))

	root := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// connectDB waits for Postgres to accept connections, retrying once a
// second for up to 30 attempts.
func connectDB(cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	attempt := 0
	db, err := backoff.RetryWithData(func() (*sql.DB, error) {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool)
		if err != nil {
			slog.Info("waiting for database", "attempt", attempt)
		}
		return db, err
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 29))
	if err != nil {
		return nil, fmt.Errorf("connectDB: gave up after %d attempts: %w", attempt, err)
	}
	return db, nil
}
