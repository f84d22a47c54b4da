package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
)

// MemoryStore keeps the library in process memory. Atomically holds the
// store mutex for the whole unit of work, which gives the same
// serialisation PostgresStore gets from row locks.
type MemoryStore struct {
	mu       sync.RWMutex
	books    map[string]model.Book
	accounts map[string]model.Account
	requests []model.BorrowRequest // insertion order
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:    make(map[string]model.Book),
		accounts: make(map[string]model.Account),
	}
}

// Atomically runs fn with exclusive access to the store. Writes made through
// the Tx are applied only when fn returns nil.
func (s *MemoryStore) Atomically(ctx context.Context, fn TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, updates: make(map[string]statusUpdate)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// CreateBook inserts a new book.
func (s *MemoryStore) CreateBook(_ context.Context, b *model.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[b.ID]; ok {
		return ErrDuplicate
	}
	s.books[b.ID] = *b
	return nil
}

// Books returns the whole catalog ordered by title.
func (s *MemoryStore) Books(_ context.Context) ([]model.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]model.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// BookByID returns a single book or ErrNotFound.
func (s *MemoryStore) BookByID(_ context.Context, id string) (*model.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// CreateAccount inserts a new account, or returns ErrDuplicate when the
// username is taken.
func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == a.Username {
			return ErrDuplicate
		}
	}
	s.accounts[a.ID] = *a
	return nil
}

// Accounts returns every account ordered by username.
func (s *MemoryStore) Accounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

// AccountByID returns a single account or ErrNotFound.
func (s *MemoryStore) AccountByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

// AccountByUsername returns a single account or ErrNotFound.
func (s *MemoryStore) AccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

// BorrowRequestsByAccount returns the requests owned by accountID in
// insertion order, with book titles.
func (s *MemoryStore) BorrowRequestsByAccount(_ context.Context, accountID string) ([]model.BorrowRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.history(func(r *model.BorrowRequest) bool { return r.AccountID == accountID }), nil
}

// AllBorrowRequests returns every request in insertion order, with book titles.
func (s *MemoryStore) AllBorrowRequests(_ context.Context) ([]model.BorrowRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.history(func(*model.BorrowRequest) bool { return true }), nil
}

// history must be called with s.mu held.
func (s *MemoryStore) history(keep func(*model.BorrowRequest) bool) []model.BorrowRequest {
	var out []model.BorrowRequest
	for i := range s.requests {
		r := s.requests[i]
		if !keep(&r) {
			continue
		}
		r.BookTitle = s.books[r.BookID].Title
		out = append(out, r)
	}
	return out
}

type statusUpdate struct {
	status model.Status
	at     time.Time
}

// memTx stages writes until commit. The owning store's mutex is held for
// the lifetime of the transaction.
type memTx struct {
	store   *MemoryStore
	inserts []model.BorrowRequest
	updates map[string]statusUpdate
}

func (t *memTx) LockBook(_ context.Context, bookID string) (*model.Book, error) {
	b, ok := t.store.books[bookID]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (t *memTx) ApprovedOverlapping(_ context.Context, bookID string, r model.DateRange, excludeID string) ([]model.BorrowRequest, error) {
	var out []model.BorrowRequest
	t.each(func(req model.BorrowRequest) {
		if req.BookID != bookID || req.ID == excludeID || req.Status != model.StatusApproved {
			return
		}
		if req.Range().Overlaps(r) {
			out = append(out, req)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateFrom.Compare(out[j].DateFrom) < 0 })
	return out, nil
}

func (t *memTx) InsertBorrowRequest(_ context.Context, req *model.BorrowRequest) error {
	t.inserts = append(t.inserts, *req)
	return nil
}

func (t *memTx) BorrowRequestForUpdate(_ context.Context, id string) (*model.BorrowRequest, error) {
	var found *model.BorrowRequest
	t.each(func(req model.BorrowRequest) {
		if req.ID == id {
			found = &req
		}
	})
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	if _, err := t.BorrowRequestForUpdate(ctx, id); err != nil {
		return err
	}
	t.updates[id] = statusUpdate{status: status, at: at}
	return nil
}

// each visits committed and staged requests with staged status updates applied.
func (t *memTx) each(fn func(model.BorrowRequest)) {
	visit := func(req model.BorrowRequest) {
		if u, ok := t.updates[req.ID]; ok {
			req.Status = u.status
			req.UpdatedAt = u.at
		}
		fn(req)
	}
	for _, req := range t.store.requests {
		visit(req)
	}
	for _, req := range t.inserts {
		visit(req)
	}
}

func (t *memTx) commit() {
	s := t.store
	s.requests = append(s.requests, t.inserts...)
	for i := range s.requests {
		if u, ok := t.updates[s.requests[i].ID]; ok {
			s.requests[i].Status = u.status
			s.requests[i].UpdatedAt = u.at
		}
	}
}
