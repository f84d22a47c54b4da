package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/repository"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt ignores anything past 72 bytes
)

// CatalogStore is the persistence the Catalog needs.
type CatalogStore interface {
	CreateBook(ctx context.Context, b *model.Book) error
	Books(ctx context.Context) ([]model.Book, error)
	CreateAccount(ctx context.Context, a *model.Account) error
	Accounts(ctx context.Context) ([]model.Account, error)
	AccountByUsername(ctx context.Context, username string) (*model.Account, error)
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithHashCost sets the bcrypt cost used for new passwords.
func WithHashCost(cost int) CatalogOption {
	return func(c *Catalog) { c.hashCost = cost }
}

// Catalog manages books and accounts.
type Catalog struct {
	store    CatalogStore
	log      *zap.Logger
	hashCost int

	// dummyHash is compared against for unknown usernames so that a lookup
	// miss costs as much as a wrong password.
	dummyHash []byte
}

// NewCatalog constructs a Catalog.
func NewCatalog(store CatalogStore, log *zap.Logger, opts ...CatalogOption) *Catalog {
	c := &Catalog{store: store, log: log, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(c)
	}
	c.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), c.hashCost)
	return c
}

// AddBook adds a book to the catalog. Only librarians may add books.
func (c *Catalog) AddBook(ctx context.Context, librarian *model.Account, req model.CreateBookRequest) (*model.Book, error) {
	if err := requireLibrarian(librarian); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	if req.Title == "" {
		return nil, invalid("title", "is required")
	}
	if req.Author == "" {
		return nil, invalid("author", "is required")
	}
	if req.CopiesAvailable < 0 {
		return nil, invalid("copies_available", "must not be negative")
	}

	book := &model.Book{
		ID:              uuid.New().String(),
		Title:           req.Title,
		Author:          req.Author,
		CopiesAvailable: req.CopiesAvailable,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.store.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("add book: %w", err)
	}
	c.log.Info("book added", zap.String("book_id", book.ID), zap.String("librarian_id", librarian.ID))
	return book, nil
}

// Books returns the whole catalog.
func (c *Catalog) Books(ctx context.Context) ([]model.Book, error) {
	books, err := c.store.Books(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// CreateAccount creates a library account. Only librarians may create accounts.
func (c *Catalog) CreateAccount(ctx context.Context, librarian *model.Account, req model.CreateAccountRequest) (*model.Account, error) {
	if err := requireLibrarian(librarian); err != nil {
		return nil, err
	}
	account, err := c.createAccount(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.Info("account created",
		zap.String("account_id", account.ID),
		zap.Bool("is_librarian", account.IsLibrarian),
		zap.String("librarian_id", librarian.ID),
	)
	return account, nil
}

// BootstrapLibrarian creates a librarian account without an acting caller.
// It exists for first-run setup and is not exposed over HTTP.
func (c *Catalog) BootstrapLibrarian(ctx context.Context, req model.CreateAccountRequest) (*model.Account, error) {
	req.IsLibrarian = true
	account, err := c.createAccount(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.Info("librarian bootstrapped", zap.String("account_id", account.ID))
	return account, nil
}

func (c *Catalog) createAccount(ctx context.Context, req model.CreateAccountRequest) (*model.Account, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" {
		return nil, invalid("username", "is required")
	}
	if !isValidEmail(req.Email) {
		return nil, invalid("email", "is not a valid email address")
	}
	if len(req.Password) < minPasswordLen {
		return nil, invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	if len(req.Password) > maxPasswordLen {
		return nil, invalid("password", fmt.Sprintf("must be at most %d bytes", maxPasswordLen))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), c.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &model.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		IsLibrarian:  req.IsLibrarian,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Accounts returns every account.
func (c *Catalog) Accounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := c.store.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Authenticate resolves username and password to an account.
func (c *Catalog) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	account, err := c.store.AccountByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(c.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
