package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // registers the postgres dialect
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
)

const (
	tableBooks          = "books"
	tableAccounts       = "accounts"
	tableBorrowRequests = "borrow_requests"

	uniqueViolation = "23505"
)

var dialect = goqu.Dialect("postgres")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists the library in PostgreSQL through pgx. Queries are
// built with goqu and always rendered as prepared statements.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Atomically runs fn inside a single transaction.
//
// Ledger writes must take LockBook first. SELECT … FOR UPDATE on the book row
// makes every concurrent submission or approval for that book queue behind
// the current one, so the overlap read and the following write see the same
// ledger state. Without the lock two transactions could both read "no
// approved overlap" and both commit.
func (s *PostgresStore) Atomically(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ─── Books ────────────────────────────────────────────────────────────────────

// CreateBook inserts a new book.
func (s *PostgresStore) CreateBook(ctx context.Context, b *model.Book) error {
	sql, args, err := dialect.Insert(tableBooks).Rows(goqu.Record{
		"id":               b.ID,
		"title":            b.Title,
		"author":           b.Author,
		"copies_available": b.CopiesAvailable,
		"created_at":       b.CreatedAt,
	}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert book: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// Books returns the whole catalog ordered by title.
func (s *PostgresStore) Books(ctx context.Context) ([]model.Book, error) {
	ds := selectBooks().Order(goqu.C("title").Asc(), goqu.C("id").Asc())
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list books: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// BookByID returns a single book or ErrNotFound.
func (s *PostgresStore) BookByID(ctx context.Context, id string) (*model.Book, error) {
	return getBook(ctx, s.db, selectBooks().Where(goqu.C("id").Eq(id)))
}

func selectBooks() *goqu.SelectDataset {
	return dialect.From(tableBooks).Select("id", "title", "author", "copies_available", "created_at")
}

func getBook(ctx context.Context, q querier, ds *goqu.SelectDataset) (*model.Book, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get book: %w", err)
	}
	return scanBook(q.QueryRow(ctx, sql, args...))
}

func scanBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.CopiesAvailable, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan book: %w", err)
	}
	return &b, nil
}

// ─── Accounts ─────────────────────────────────────────────────────────────────

// CreateAccount inserts a new account, or returns ErrDuplicate when the
// username is taken.
func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	sql, args, err := dialect.Insert(tableAccounts).Rows(goqu.Record{
		"id":            a.ID,
		"username":      a.Username,
		"email":         a.Email,
		"is_librarian":  a.IsLibrarian,
		"password_hash": a.PasswordHash,
		"created_at":    a.CreatedAt,
	}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert account: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Accounts returns every account ordered by username.
func (s *PostgresStore) Accounts(ctx context.Context) ([]model.Account, error) {
	sql, args, err := selectAccounts().Order(goqu.C("username").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list accounts: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// AccountByID returns a single account or ErrNotFound.
func (s *PostgresStore) AccountByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getAccount(ctx, selectAccounts().Where(goqu.C("id").Eq(id)))
}

// AccountByUsername returns a single account or ErrNotFound.
func (s *PostgresStore) AccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, selectAccounts().Where(goqu.C("username").Eq(username)))
}

func selectAccounts() *goqu.SelectDataset {
	return dialect.From(tableAccounts).
		Select("id", "username", "email", "is_librarian", "password_hash", "created_at")
}

func (s *PostgresStore) getAccount(ctx context.Context, ds *goqu.SelectDataset) (*model.Account, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get account: %w", err)
	}
	return scanAccount(s.db.QueryRow(ctx, sql, args...))
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.IsLibrarian, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// ─── Borrow requests ──────────────────────────────────────────────────────────

// BorrowRequestsByAccount returns the requests owned by accountID in
// insertion order, with book titles.
func (s *PostgresStore) BorrowRequestsByAccount(ctx context.Context, accountID string) ([]model.BorrowRequest, error) {
	return listBorrowRequests(ctx, s.db, selectBorrowHistory().Where(goqu.I("r.account_id").Eq(accountID)), true)
}

// AllBorrowRequests returns every request in insertion order, with book titles.
func (s *PostgresStore) AllBorrowRequests(ctx context.Context) ([]model.BorrowRequest, error) {
	return listBorrowRequests(ctx, s.db, selectBorrowHistory(), true)
}

func selectBorrowHistory() *goqu.SelectDataset {
	return dialect.From(goqu.T(tableBorrowRequests).As("r")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Select(
			goqu.I("r.id"), goqu.I("r.account_id"), goqu.I("r.book_id"), goqu.I("b.title"),
			goqu.I("r.date_from"), goqu.I("r.date_to"), goqu.I("r.status"),
			goqu.I("r.created_at"), goqu.I("r.updated_at"),
		).
		Order(goqu.I("r.created_at").Asc(), goqu.I("r.id").Asc())
}

func selectBorrowRequests() *goqu.SelectDataset {
	return dialect.From(tableBorrowRequests).
		Select("id", "account_id", "book_id", "date_from", "date_to", "status", "created_at", "updated_at")
}

func listBorrowRequests(ctx context.Context, q querier, ds *goqu.SelectDataset, withTitle bool) ([]model.BorrowRequest, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list borrow requests: %w", err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list borrow requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.BorrowRequest
	for rows.Next() {
		req, err := scanBorrowRequest(rows, withTitle)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanBorrowRequest(row pgx.Row, withTitle bool) (*model.BorrowRequest, error) {
	var (
		req      model.BorrowRequest
		from, to time.Time
		status   string
	)
	dest := []any{&req.ID, &req.AccountID, &req.BookID}
	if withTitle {
		dest = append(dest, &req.BookTitle)
	}
	dest = append(dest, &from, &to, &status, &req.CreatedAt, &req.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan borrow request: %w", err)
	}
	req.DateFrom = model.DateOf(from)
	req.DateTo = model.DateOf(to)
	req.Status = model.Status(status)
	return &req, nil
}

// ─── Transaction ──────────────────────────────────────────────────────────────

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockBook(ctx context.Context, bookID string) (*model.Book, error) {
	return getBook(ctx, t.tx, selectBooks().Where(goqu.C("id").Eq(bookID)).ForUpdate(exp.Wait))
}

func (t *pgTx) ApprovedOverlapping(ctx context.Context, bookID string, r model.DateRange, excludeID string) ([]model.BorrowRequest, error) {
	ds := selectBorrowRequests().
		Where(
			goqu.C("book_id").Eq(bookID),
			goqu.C("status").Eq(string(model.StatusApproved)),
			goqu.C("date_to").Gte(r.From.Time),
			goqu.C("date_from").Lte(r.To.Time),
		).
		Order(goqu.C("date_from").Asc())
	if excludeID != "" {
		ds = ds.Where(goqu.C("id").Neq(excludeID))
	}
	return listBorrowRequests(ctx, t.tx, ds, false)
}

func (t *pgTx) InsertBorrowRequest(ctx context.Context, req *model.BorrowRequest) error {
	sql, args, err := dialect.Insert(tableBorrowRequests).Rows(goqu.Record{
		"id":         req.ID,
		"account_id": req.AccountID,
		"book_id":    req.BookID,
		"date_from":  req.DateFrom.Time,
		"date_to":    req.DateTo.Time,
		"status":     string(req.Status),
		"created_at": req.CreatedAt,
		"updated_at": req.UpdatedAt,
	}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert borrow request: %w", err)
	}
	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert borrow request: %w", err)
	}
	return nil
}

func (t *pgTx) BorrowRequestForUpdate(ctx context.Context, id string) (*model.BorrowRequest, error) {
	sql, args, err := selectBorrowRequests().
		Where(goqu.C("id").Eq(id)).
		ForUpdate(exp.Wait).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build lock borrow request: %w", err)
	}
	return scanBorrowRequest(t.tx.QueryRow(ctx, sql, args...), false)
}

func (t *pgTx) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	sql, args, err := dialect.Update(tableBorrowRequests).
		Set(goqu.Record{"status": string(status), "updated_at": at}).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build update status: %w", err)
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
