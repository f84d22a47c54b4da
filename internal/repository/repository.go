// Package repository implements persistence for books, accounts and borrow
// requests. PostgresStore is the production backend; MemoryStore backs tests
// and local runs without a database.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key (such as a username) is already taken.
var ErrDuplicate = errors.New("already exists")

// Tx is the view of the store available inside Atomically. Everything read
// or written through a Tx commits or rolls back together.
type Tx interface {
	// LockBook returns the book and holds it exclusively until the
	// transaction ends, serialising all ledger writes for that book.
	LockBook(ctx context.Context, bookID string) (*model.Book, error)

	// ApprovedOverlapping returns the Approved requests for bookID whose
	// range shares a day with r, skipping excludeID when it is non-empty.
	ApprovedOverlapping(ctx context.Context, bookID string, r model.DateRange, excludeID string) ([]model.BorrowRequest, error)

	InsertBorrowRequest(ctx context.Context, req *model.BorrowRequest) error

	// BorrowRequestForUpdate returns the request and holds it exclusively.
	BorrowRequestForUpdate(ctx context.Context, id string) (*model.BorrowRequest, error)

	UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error
}

// TxFunc is the unit of work passed to Atomically.
type TxFunc func(ctx context.Context, tx Tx) error
