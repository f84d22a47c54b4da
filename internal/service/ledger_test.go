package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/model"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/repository"
	"github.com/Shivanand-hulikatti/library-borrowing/internal/service"
)

type fixture struct {
	ctx       context.Context
	store     *repository.MemoryStore
	ledger    *service.Ledger
	librarian *model.Account
	alice     *model.Account
	bob       *model.Account
	bookX     *model.Book
}

func newFixture(t *testing.T, opts ...service.LedgerOption) *fixture {
	t.Helper()

	f := &fixture{ctx: context.Background(), store: repository.NewMemoryStore()}
	f.ledger = service.NewLedger(f.store, zap.NewNop(), opts...)
	f.librarian = f.addAccount(t, "libby", true)
	f.alice = f.addAccount(t, "alice", false)
	f.bob = f.addAccount(t, "bob", false)
	f.bookX = f.addBook(t, "X", 1)
	return f
}

func (f *fixture) addAccount(t *testing.T, username string, librarian bool) *model.Account {
	t.Helper()
	a := &model.Account{
		ID:          uuid.New().String(),
		Username:    username,
		Email:       username + "@library.test",
		IsLibrarian: librarian,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateAccount(f.ctx, a))
	return a
}

func (f *fixture) addBook(t *testing.T, title string, copies int) *model.Book {
	t.Helper()
	b := &model.Book{
		ID:              uuid.New().String(),
		Title:           title,
		Author:          "Anon",
		CopiesAvailable: copies,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateBook(f.ctx, b))
	return b
}

func (f *fixture) submit(who *model.Account, book *model.Book, from, to string) (*model.BorrowRequest, error) {
	return f.ledger.Submit(f.ctx, who, model.SubmitBorrowRequest{
		BookID:   book.ID,
		DateFrom: day(from),
		DateTo:   day(to),
	})
}

func (f *fixture) approved(t *testing.T, who *model.Account, book *model.Book, from, to string) *model.BorrowRequest {
	t.Helper()
	req, err := f.submit(who, book, from, to)
	require.NoError(t, err)
	req, err = f.ledger.Decide(f.ctx, f.librarian, req.ID, model.DecisionApprove)
	require.NoError(t, err)
	return req
}

func day(s string) model.Date {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func Test_Ledger_Submit_CreatesPendingRequest(t *testing.T) {
	f := newFixture(t)

	req, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")

	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, f.alice.ID, req.AccountID)
	assert.Equal(t, f.bookX.ID, req.BookID)
	assert.Equal(t, "X", req.BookTitle)
	assert.Equal(t, "2024-01-01", req.DateFrom.String())
	assert.Equal(t, "2024-01-10", req.DateTo.String())
}

func Test_Ledger_Submit_ApprovedOverlapConflicts(t *testing.T) {
	f := newFixture(t)
	f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")

	_, err := f.submit(f.bob, f.bookX, "2024-01-05", "2024-01-15")
	assert.ErrorIs(t, err, service.ErrConflict)

	// requester does not matter
	_, err = f.submit(f.alice, f.bookX, "2024-01-10", "2024-01-10")
	assert.ErrorIs(t, err, service.ErrConflict)

	adjacent, err := f.submit(f.bob, f.bookX, "2024-01-11", "2024-01-20")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, adjacent.Status)
}

func Test_Ledger_Submit_ConflictCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")

	_, err := f.submit(f.bob, f.bookX, "2024-01-02", "2024-01-03")
	require.ErrorIs(t, err, service.ErrConflict)

	all, err := f.ledger.ListAll(f.ctx, f.librarian)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func Test_Ledger_Submit_PendingOverlapDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	_, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)

	_, err = f.submit(f.bob, f.bookX, "2024-01-05", "2024-01-15")

	assert.NoError(t, err)
}

func Test_Ledger_Submit_DeniedOverlapDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	req, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)
	_, err = f.ledger.Decide(f.ctx, f.librarian, req.ID, model.DecisionDeny)
	require.NoError(t, err)

	_, err = f.submit(f.bob, f.bookX, "2024-01-01", "2024-01-10")

	assert.NoError(t, err)
}

func Test_Ledger_Submit_OtherBookDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	bookY := f.addBook(t, "Y", 1)
	f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")

	_, err := f.submit(f.bob, bookY, "2024-01-01", "2024-01-10")

	assert.NoError(t, err)
}

func Test_Ledger_Submit_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		who   *model.Account
		in    model.SubmitBorrowRequest
		field string
	}{
		{"no_requester", nil, model.SubmitBorrowRequest{BookID: f.bookX.ID, DateFrom: day("2024-01-01"), DateTo: day("2024-01-02")}, "requester"},
		{"no_book", f.alice, model.SubmitBorrowRequest{BookID: "  ", DateFrom: day("2024-01-01"), DateTo: day("2024-01-02")}, "book_id"},
		{"no_from", f.alice, model.SubmitBorrowRequest{BookID: f.bookX.ID, DateTo: day("2024-01-02")}, "date_from"},
		{"no_to", f.alice, model.SubmitBorrowRequest{BookID: f.bookX.ID, DateFrom: day("2024-01-01")}, "date_to"},
		{"reversed", f.alice, model.SubmitBorrowRequest{BookID: f.bookX.ID, DateFrom: day("2024-01-05"), DateTo: day("2024-01-01")}, "date_to"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.Submit(f.ctx, tc.who, tc.in)

			require.ErrorIs(t, err, service.ErrValidation)
			var verr *service.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func Test_Ledger_Submit_UnknownBook(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Submit(f.ctx, f.alice, model.SubmitBorrowRequest{
		BookID: uuid.New().String(), DateFrom: day("2024-01-01"), DateTo: day("2024-01-02"),
	})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.ledger.Submit(f.ctx, f.alice, model.SubmitBorrowRequest{
		BookID: "42", DateFrom: day("2024-01-01"), DateTo: day("2024-01-02"),
	})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func Test_Ledger_Decide_RequiresLibrarian(t *testing.T) {
	f := newFixture(t)
	req, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)

	for _, d := range []model.Decision{model.DecisionApprove, model.DecisionDeny} {
		_, err = f.ledger.Decide(f.ctx, f.alice, req.ID, d)
		assert.ErrorIs(t, err, service.ErrPermission)
		_, err = f.ledger.Decide(f.ctx, nil, req.ID, d)
		assert.ErrorIs(t, err, service.ErrPermission)
	}

	mine, err := f.ledger.ListForAccount(f.ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, model.StatusPending, mine[0].Status)
}

func Test_Ledger_Decide_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Decide(f.ctx, f.librarian, uuid.New().String(), model.DecisionApprove)
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.ledger.Decide(f.ctx, f.librarian, "7", model.DecisionApprove)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func Test_Ledger_Decide_InvalidDecision(t *testing.T) {
	f := newFixture(t)
	req, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)

	_, err = f.ledger.Decide(f.ctx, f.librarian, req.ID, model.Decision("cancel"))

	assert.ErrorIs(t, err, service.ErrValidation)
}

func Test_Ledger_Decide_NormalisesDecision(t *testing.T) {
	f := newFixture(t)
	req, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)

	approved, err := f.ledger.Decide(f.ctx, f.librarian, req.ID, model.Decision(" Approve "))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)

	denied, err := f.ledger.Decide(f.ctx, f.librarian, req.ID, model.Decision("DENY"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, denied.Status)
}

func Test_Ledger_Decide_ReturnsBookTitle(t *testing.T) {
	f := newFixture(t, service.WithApprovalRecheck(false))
	req, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)

	for _, d := range []model.Decision{model.DecisionApprove, model.DecisionDeny} {
		decided, err := f.ledger.Decide(f.ctx, f.librarian, req.ID, d)
		require.NoError(t, err)
		assert.Equal(t, req.BookTitle, decided.BookTitle, d)
		assert.Equal(t, "X", decided.BookTitle, d)
	}
}

func Test_Ledger_Decide_PermissiveRedecisionOverwrites(t *testing.T) {
	f := newFixture(t)
	req := f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")
	assert.Equal(t, model.StatusApproved, req.Status)

	req, err := f.ledger.Decide(f.ctx, f.librarian, req.ID, model.DecisionDeny)

	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, req.Status)
	mine, err := f.ledger.ListForAccount(f.ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, mine[0].Status)

	// the slot is free again
	_, err = f.submit(f.bob, f.bookX, "2024-01-05", "2024-01-06")
	assert.NoError(t, err)
}

func Test_Ledger_Decide_OneShotRejectsRedecision(t *testing.T) {
	f := newFixture(t, service.WithOneShotDecisions(true))
	req := f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")

	_, err := f.ledger.Decide(f.ctx, f.librarian, req.ID, model.DecisionDeny)

	assert.ErrorIs(t, err, service.ErrAlreadyDecided)
	mine, err := f.ledger.ListForAccount(f.ctx, f.alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, mine[0].Status)
}

func Test_Ledger_Decide_RecheckBlocksOverlappingApproval(t *testing.T) {
	f := newFixture(t)
	first, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)
	second, err := f.submit(f.bob, f.bookX, "2024-01-05", "2024-01-15")
	require.NoError(t, err)

	_, err = f.ledger.Decide(f.ctx, f.librarian, first.ID, model.DecisionApprove)
	require.NoError(t, err)
	_, err = f.ledger.Decide(f.ctx, f.librarian, second.ID, model.DecisionApprove)
	require.ErrorIs(t, err, service.ErrConflict)

	theirs, err := f.ledger.ListForAccount(f.ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, theirs[0].Status)

	// denying is always allowed
	denied, err := f.ledger.Decide(f.ctx, f.librarian, second.ID, model.DecisionDeny)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, denied.Status)
}

func Test_Ledger_Decide_ReapprovingDoesNotConflictWithItself(t *testing.T) {
	f := newFixture(t)
	req := f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")

	again, err := f.ledger.Decide(f.ctx, f.librarian, req.ID, model.DecisionApprove)

	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, again.Status)
}

func Test_Ledger_Decide_WithoutRecheckAllowsDoubleApproval(t *testing.T) {
	f := newFixture(t, service.WithApprovalRecheck(false))
	first, err := f.submit(f.alice, f.bookX, "2024-01-01", "2024-01-10")
	require.NoError(t, err)
	second, err := f.submit(f.bob, f.bookX, "2024-01-05", "2024-01-15")
	require.NoError(t, err)

	_, err = f.ledger.Decide(f.ctx, f.librarian, first.ID, model.DecisionApprove)
	require.NoError(t, err)
	_, err = f.ledger.Decide(f.ctx, f.librarian, second.ID, model.DecisionApprove)

	assert.NoError(t, err)
}

func Test_Ledger_CapacityEnforcement(t *testing.T) {
	f := newFixture(t, service.WithCapacityEnforcement(true))
	pair := f.addBook(t, "Pair", 2)

	f.approved(t, f.alice, pair, "2024-01-01", "2024-01-10")
	f.approved(t, f.bob, pair, "2024-01-05", "2024-01-15")

	// 01-05..01-10 already has two copies out
	_, err := f.submit(f.alice, pair, "2024-01-08", "2024-01-09")
	assert.ErrorIs(t, err, service.ErrConflict)

	// 01-11..01-20 has only one copy out
	_, err = f.submit(f.alice, pair, "2024-01-11", "2024-01-20")
	assert.NoError(t, err)

	// a range touching both ends still peaks at one copy before 01-05
	_, err = f.submit(f.alice, pair, "2023-12-28", "2024-01-04")
	assert.NoError(t, err)
}

func Test_Ledger_CapacityEnforcement_SequentialApprovalsShareACopy(t *testing.T) {
	f := newFixture(t, service.WithCapacityEnforcement(true))
	pair := f.addBook(t, "Pair", 2)
	f.approved(t, f.alice, pair, "2024-01-01", "2024-01-05")
	f.approved(t, f.bob, pair, "2024-01-06", "2024-01-10")

	// never more than one approved copy on any day
	approved := f.approved(t, f.alice, pair, "2024-01-01", "2024-01-10")

	assert.Equal(t, model.StatusApproved, approved.Status)
}

func Test_Ledger_CapacityEnforcement_ZeroCopies(t *testing.T) {
	f := newFixture(t, service.WithCapacityEnforcement(true))
	none := f.addBook(t, "Lost", 0)

	_, err := f.submit(f.alice, none, "2024-01-01", "2024-01-02")

	assert.ErrorIs(t, err, service.ErrConflict)
}

func Test_Ledger_SingleCopyIgnoresDeclaredCopies(t *testing.T) {
	f := newFixture(t)
	many := f.addBook(t, "Many", 5)
	f.approved(t, f.alice, many, "2024-01-01", "2024-01-10")

	_, err := f.submit(f.bob, many, "2024-01-02", "2024-01-03")

	assert.ErrorIs(t, err, service.ErrConflict)
}

func Test_Ledger_Listing(t *testing.T) {
	f := newFixture(t)
	req, err := f.submit(f.alice, f.bookX, "2024-02-01", "2024-02-03")
	require.NoError(t, err)

	mine, err := f.ledger.ListForAccount(f.ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, req.ID, mine[0].ID)
	assert.Equal(t, model.StatusPending, mine[0].Status)

	all, err := f.ledger.ListAll(f.ctx, f.librarian)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, req.ID, all[0].ID)

	theirs, err := f.ledger.ListForAccount(f.ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.ledger.ListAll(f.ctx, f.alice)
	assert.ErrorIs(t, err, service.ErrPermission)
}

func Test_Ledger_Listing_KeepsInsertionOrder(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for _, from := range []string{"2024-03-01", "2024-01-01", "2024-02-01"} {
		req, err := f.submit(f.alice, f.bookX, from, from)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	mine, err := f.ledger.ListForAccount(f.ctx, f.alice)

	require.NoError(t, err)
	require.Len(t, mine, 3)
	for i, r := range mine {
		assert.Equal(t, ids[i], r.ID)
	}
}

func Test_Ledger_HistoryFor(t *testing.T) {
	f := newFixture(t)
	_, err := f.submit(f.alice, f.bookX, "2024-02-01", "2024-02-03")
	require.NoError(t, err)

	history, err := f.ledger.HistoryFor(f.ctx, f.librarian, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = f.ledger.HistoryFor(f.ctx, f.bob, f.alice.ID)
	assert.ErrorIs(t, err, service.ErrPermission)

	_, err = f.ledger.HistoryFor(f.ctx, f.librarian, uuid.New().String())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func Test_Ledger_ConcurrentApprovalsKeepApprovedDisjoint(t *testing.T) {
	f := newFixture(t)
	const n = 16
	ids := make([]string, n)
	for i := range ids {
		req, err := f.submit(f.alice, f.bookX, "2024-06-01", "2024-06-07")
		require.NoError(t, err)
		ids[i] = req.ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		approved  int
		conflicts int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.ledger.Decide(f.ctx, f.librarian, id, model.DecisionApprove)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case errors.Is(err, service.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, approved)
	assert.Equal(t, n-1, conflicts)
	assertApprovedDisjoint(t, f)
}

func Test_Ledger_ConcurrentSubmissionsAfterApproval(t *testing.T) {
	f := newFixture(t)
	f.approved(t, f.alice, f.bookX, "2024-01-01", "2024-01-10")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.submit(f.bob, f.bookX, "2024-01-09", "2024-01-12")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, service.ErrConflict)
	}
	theirs, err := f.ledger.ListForAccount(f.ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, theirs)
}

func assertApprovedDisjoint(t *testing.T, f *fixture) {
	t.Helper()
	all, err := f.ledger.ListAll(f.ctx, f.librarian)
	require.NoError(t, err)

	var approved []model.BorrowRequest
	for _, r := range all {
		if r.Status == model.StatusApproved {
			approved = append(approved, r)
		}
	}
	for i := range approved {
		for j := i + 1; j < len(approved); j++ {
			if approved[i].BookID != approved[j].BookID {
				continue
			}
			assert.False(t, approved[i].Range().Overlaps(approved[j].Range()),
				"approved %s and %s overlap", approved[i].ID, approved[j].ID)
		}
	}
}
