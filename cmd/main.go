// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/config"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/database"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/handler"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/repository"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/service"
)

// store is what both services need from the persistence layer.
type store interface {
	service.LedgerStore
	service.CatalogStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// ── 1. Open the store ─────────────────────────────────────────────────
	var st store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		st = repository.NewMemoryStore()
	default:
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		logger.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
		st = repository.NewPostgresStore(pool)
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	ledger := service.NewLedger(st, logger.Named("ledger"),
		service.WithApprovalRecheck(cfg.Ledger.RecheckOnApprove),
		service.WithOneShotDecisions(cfg.Ledger.OneShotDecisions),
		service.WithCapacityEnforcement(cfg.Ledger.EnforceCapacity),
	)
	catalog := service.NewCatalog(st, logger.Named("catalog"))
	if err := seedLibrarian(ctx, catalog, cfg.Librarian, logger); err != nil {
		return err
	}
	libraryHandler := handler.NewLibraryHandler(ledger, catalog, logger.Named("http"))

	policy := ledger.Policy()
	logger.Info("ledger policy",
		zap.Bool("recheck_on_approve", policy.RecheckOnApprove),
		zap.Bool("one_shot_decisions", policy.OneShotDecisions),
		zap.Bool("enforce_capacity", policy.EnforceCapacity),
	)

	// ── 3. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler.NewRouter(libraryHandler, catalog, logger.Named("http")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Block until SIGINT, SIGTERM or a listener failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// seedLibrarian creates the configured librarian unless no password is set
// or the username is already taken.
func seedLibrarian(ctx context.Context, catalog *service.Catalog, lib config.Librarian, logger *zap.Logger) error {
	if lib.Password == "" {
		return nil
	}
	_, err := catalog.BootstrapLibrarian(ctx, model.CreateAccountRequest{
		Username: lib.Username,
		Email:    lib.Email,
		Password: lib.Password,
	})
	switch {
	case errors.Is(err, service.ErrDuplicateAccount):
		logger.Info("librarian already exists", zap.String("username", lib.Username))
		return nil
	case err != nil:
		return fmt.Errorf("seed librarian: %w", err)
	}
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
