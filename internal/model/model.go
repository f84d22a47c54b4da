// Package model defines the core domain types for the library borrowing system.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO 8601 calendar date layout used on every boundary.
const DateLayout = "2006-01-02"

// Date is a calendar day. The wrapped time is always midnight UTC.
type Date struct {
	time.Time
}

// NewDate returns the calendar day y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// AddDays returns the day n days after d.
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// Compare returns -1, 0 or +1 when d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	return d.Time.Compare(o.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %s: want a quoted YYYY-MM-DD string", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	From Date
	To   Date
}

// Valid reports whether both bounds are set and From is not after To.
func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.From.Compare(r.To) <= 0
}

// Overlaps reports whether r and o share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.To.Compare(o.From) >= 0 && r.From.Compare(o.To) <= 0
}

// Contains reports whether day falls within r.
func (r DateRange) Contains(day Date) bool {
	return r.From.Compare(day) <= 0 && day.Compare(r.To) <= 0
}

func (r DateRange) String() string {
	return r.From.String() + ".." + r.To.String()
}

// Book is a catalog entry. CopiesAvailable is the declared number of copies.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	CopiesAvailable int       `json:"copies_available"`
	CreatedAt       time.Time `json:"created_at"`
}

// Account is a library user. Librarians manage the catalog and decide requests;
// everyone else is a patron.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsLibrarian  bool      `json:"is_librarian"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Status is where a borrow request sits in its lifecycle.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusDenied   Status = "Denied"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied:
		return true
	}
	return false
}

// Decision is a librarian's verdict on a borrow request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ParseDecision maps an action string to a Decision.
func ParseDecision(action string) (Decision, bool) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(action))); d {
	case DecisionApprove, DecisionDeny:
		return d, true
	}
	return "", false
}

// Status returns the status a request ends up in after d, or "" when d is
// not a canonical Decision.
func (d Decision) Status() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionDeny:
		return StatusDenied
	}
	return ""
}

// BorrowRequest asks for one book over an inclusive date range.
// BookTitle is filled in by listing queries and is not persisted.
type BorrowRequest struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	BookID    string    `json:"book_id"`
	BookTitle string    `json:"book_title,omitempty"`
	DateFrom  Date      `json:"date_from"`
	DateTo    Date      `json:"date_to"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Range returns the requested span.
func (r *BorrowRequest) Range() DateRange {
	return DateRange{From: r.DateFrom, To: r.DateTo}
}

// CreateBookRequest is the payload for adding a book to the catalog.
type CreateBookRequest struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	CopiesAvailable int    `json:"copies_available"`
}

// CreateAccountRequest is the payload for creating a library account.
type CreateAccountRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	IsLibrarian bool   `json:"is_librarian"`
}

// SubmitBorrowRequest is the payload for asking to borrow a book.
type SubmitBorrowRequest struct {
	BookID   string `json:"book_id"`
	DateFrom Date   `json:"date_from"`
	DateTo   Date   `json:"date_to"`
}

// DecisionRequest is the payload a librarian sends to approve or deny a request.
type DecisionRequest struct {
	Action string `json:"action"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
