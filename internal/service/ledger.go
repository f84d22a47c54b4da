// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/repository"
)

// LedgerStore is the persistence the Ledger needs.
type LedgerStore interface {
	Atomically(ctx context.Context, fn repository.TxFunc) error
	AccountByID(ctx context.Context, id string) (*model.Account, error)
	BorrowRequestsByAccount(ctx context.Context, accountID string) ([]model.BorrowRequest, error)
	AllBorrowRequests(ctx context.Context) ([]model.BorrowRequest, error)
}

// Policy selects how strictly the Ledger guards approvals.
type Policy struct {
	// RecheckOnApprove re-runs the overlap check when a request is approved.
	RecheckOnApprove bool
	// OneShotDecisions rejects deciding a request that is no longer Pending.
	OneShotDecisions bool
	// EnforceCapacity lets up to CopiesAvailable approved requests share a
	// day. When false every book behaves as a single copy.
	EnforceCapacity bool
}

// DefaultPolicy rechecks overlaps on approval and allows re-decisions.
func DefaultPolicy() Policy {
	return Policy{RecheckOnApprove: true}
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithPolicy replaces the whole policy.
func WithPolicy(p Policy) LedgerOption {
	return func(l *Ledger) { l.policy = p }
}

// WithApprovalRecheck toggles the overlap check on approval.
func WithApprovalRecheck(on bool) LedgerOption {
	return func(l *Ledger) { l.policy.RecheckOnApprove = on }
}

// WithOneShotDecisions toggles rejection of re-decisions.
func WithOneShotDecisions(on bool) LedgerOption {
	return func(l *Ledger) { l.policy.OneShotDecisions = on }
}

// WithCapacityEnforcement toggles multi-copy capacity checks.
func WithCapacityEnforcement(on bool) LedgerOption {
	return func(l *Ledger) { l.policy.EnforceCapacity = on }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// Ledger owns every borrow request and keeps approved requests for a book
// from double-booking it.
type Ledger struct {
	store  LedgerStore
	log    *zap.Logger
	now    func() time.Time
	policy Policy
}

// NewLedger constructs a Ledger with DefaultPolicy, adjusted by opts.
func NewLedger(store LedgerStore, log *zap.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the active policy.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Submit records a new Pending request by requester. It fails with
// ErrConflict when an Approved request for the same book overlaps the
// requested range; Pending requests never block a submission.
func (l *Ledger) Submit(ctx context.Context, requester *model.Account, in model.SubmitBorrowRequest) (*model.BorrowRequest, error) {
	if requester == nil {
		return nil, invalid("requester", "is required")
	}
	in.BookID = strings.TrimSpace(in.BookID)
	if in.BookID == "" {
		return nil, invalid("book_id", "is required")
	}
	if in.DateFrom.IsZero() {
		return nil, invalid("date_from", "is required")
	}
	if in.DateTo.IsZero() {
		return nil, invalid("date_to", "is required")
	}
	want := model.DateRange{From: in.DateFrom, To: in.DateTo}
	if !want.Valid() {
		return nil, invalid("date_to", "must not be before date_from")
	}
	if !isUUID(in.BookID) {
		return nil, fmt.Errorf("book %s: %w", in.BookID, ErrNotFound)
	}

	now := l.now()
	req := &model.BorrowRequest{
		ID:        uuid.New().String(),
		AccountID: requester.ID,
		BookID:    in.BookID,
		DateFrom:  in.DateFrom,
		DateTo:    in.DateTo,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := l.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		book, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return lookupErr("book", req.BookID, err)
		}
		if err := l.checkOverlap(ctx, tx, book, want, ""); err != nil {
			return err
		}
		req.BookTitle = book.Title
		return tx.InsertBorrowRequest(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			l.log.Info("borrow request rejected",
				zap.String("account_id", requester.ID),
				zap.String("book_id", req.BookID),
				zap.Stringer("range", want),
			)
			return nil, err
		}
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("submit borrow request: %w", err)
	}

	l.log.Info("borrow request submitted",
		zap.String("request_id", req.ID),
		zap.String("account_id", req.AccountID),
		zap.String("book_id", req.BookID),
		zap.Stringer("range", want),
	)
	return req, nil
}

// Decide approves or denies a request. Only librarians may decide.
//
// Under RecheckOnApprove an approval that would overlap another Approved
// request fails with ErrConflict and leaves the status unchanged. Under
// OneShotDecisions only Pending requests can be decided; otherwise a later
// decision overwrites an earlier one.
func (l *Ledger) Decide(ctx context.Context, librarian *model.Account, requestID string, decision model.Decision) (*model.BorrowRequest, error) {
	if err := requireLibrarian(librarian); err != nil {
		return nil, err
	}
	decision, ok := model.ParseDecision(string(decision))
	if !ok {
		return nil, invalid("action", "must be approve or deny")
	}
	if !isUUID(requestID) {
		return nil, fmt.Errorf("borrow request %s: %w", requestID, ErrNotFound)
	}

	target := decision.Status()
	var decided *model.BorrowRequest
	var previous model.Status

	err := l.store.Atomically(ctx, func(ctx context.Context, tx repository.Tx) error {
		req, err := tx.BorrowRequestForUpdate(ctx, requestID)
		if err != nil {
			return lookupErr("borrow request", requestID, err)
		}
		if l.policy.OneShotDecisions && req.Status != model.StatusPending {
			return ErrAlreadyDecided
		}

		book, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return lookupErr("book", req.BookID, err)
		}
		if target == model.StatusApproved && req.Status != model.StatusApproved && l.policy.RecheckOnApprove {
			if err := l.checkOverlap(ctx, tx, book, req.Range(), req.ID); err != nil {
				return err
			}
		}

		now := l.now()
		if err := tx.UpdateStatus(ctx, req.ID, target, now); err != nil {
			return lookupErr("borrow request", requestID, err)
		}
		previous = req.Status
		req.Status = target
		req.UpdatedAt = now
		req.BookTitle = book.Title
		decided = req
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyDecided):
			l.log.Info("borrow request decision rejected",
				zap.String("request_id", requestID),
				zap.String("librarian_id", librarian.ID),
				zap.String("decision", string(decision)),
				zap.Error(err),
			)
			return nil, err
		case errors.Is(err, ErrNotFound):
			return nil, err
		}
		return nil, fmt.Errorf("decide borrow request: %w", err)
	}

	l.log.Info("borrow request decided",
		zap.String("request_id", decided.ID),
		zap.String("librarian_id", librarian.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(decided.Status)),
	)
	return decided, nil
}

// ListForAccount returns the requests owned by account.
func (l *Ledger) ListForAccount(ctx context.Context, account *model.Account) ([]model.BorrowRequest, error) {
	if account == nil {
		return nil, invalid("account", "is required")
	}
	reqs, err := l.store.BorrowRequestsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list borrow requests: %w", err)
	}
	return reqs, nil
}

// ListAll returns every request in the system. Only librarians may list.
func (l *Ledger) ListAll(ctx context.Context, librarian *model.Account) ([]model.BorrowRequest, error) {
	if err := requireLibrarian(librarian); err != nil {
		return nil, err
	}
	reqs, err := l.store.AllBorrowRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all borrow requests: %w", err)
	}
	return reqs, nil
}

// HistoryFor returns the requests owned by accountID, for a librarian.
func (l *Ledger) HistoryFor(ctx context.Context, librarian *model.Account, accountID string) ([]model.BorrowRequest, error) {
	if err := requireLibrarian(librarian); err != nil {
		return nil, err
	}
	if !isUUID(accountID) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	account, err := l.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, lookupErr("account", accountID, err)
	}
	return l.ListForAccount(ctx, account)
}

// checkOverlap fails with ErrConflict when want cannot be approved next to
// the Approved requests already on book. excludeID skips the request being
// approved.
func (l *Ledger) checkOverlap(ctx context.Context, tx repository.Tx, book *model.Book, want model.DateRange, excludeID string) error {
	approved, err := tx.ApprovedOverlapping(ctx, book.ID, want, excludeID)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if !l.policy.EnforceCapacity {
		if len(approved) > 0 {
			return ErrConflict
		}
		return nil
	}
	if peakOccupancy(want, approved) >= book.CopiesAvailable {
		return ErrConflict
	}
	return nil
}

// peakOccupancy returns the largest number of approved requests covering
// any single day of want.
func peakOccupancy(want model.DateRange, approved []model.BorrowRequest) int {
	type edge struct {
		day   model.Date
		delta int
	}
	edges := make([]edge, 0, 2*len(approved))
	for i := range approved {
		r := approved[i].Range()
		if !r.Overlaps(want) {
			continue
		}
		from, to := r.From, r.To
		if from.Compare(want.From) < 0 {
			from = want.From
		}
		if to.Compare(want.To) > 0 {
			to = want.To
		}
		edges = append(edges, edge{from, +1}, edge{to.AddDays(1), -1})
	}
	// A range ending the day before another starts must be released first.
	sort.Slice(edges, func(i, j int) bool {
		if c := edges[i].day.Compare(edges[j].day); c != 0 {
			return c < 0
		}
		return edges[i].delta < edges[j].delta
	})

	peak, current := 0, 0
	for _, e := range edges {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}

func requireLibrarian(a *model.Account) error {
	if a == nil || !a.IsLibrarian {
		return ErrPermission
	}
	return nil
}

func lookupErr(what, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
