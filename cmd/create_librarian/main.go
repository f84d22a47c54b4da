// create_librarian creates the first librarian account, which is needed
// before anyone can create other accounts over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/config"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/database"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/repository"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	username := flag.String("username", cfg.Librarian.Username, "login name (defaults to $LIBRARIAN_USERNAME)")
	email := flag.String("email", cfg.Librarian.Email, "contact email (defaults to $LIBRARIAN_EMAIL)")
	password := flag.String("password", cfg.Librarian.Password, "password (defaults to $LIBRARIAN_PASSWORD)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	req := model.CreateAccountRequest{Username: *username, Email: *email, Password: *password}
	err = run(context.Background(), cfg.Database, req, logger)
	_ = logger.Sync()
	if err != nil {
		log.Fatalf("create librarian: %v", err)
	}
}

func run(ctx context.Context, dbCfg config.Database, req model.CreateAccountRequest, logger *zap.Logger) error {
	pool, err := database.NewPool(ctx, dbCfg, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	catalog := service.NewCatalog(repository.NewPostgresStore(pool), logger)
	account, err := catalog.BootstrapLibrarian(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Created librarian %s (id %s)\n", account.Username, account.ID)
	return nil
}
