package service

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/library-borrowing/internal/repository"
)

var (
	// ErrConflict is returned when a request's range overlaps an Approved
	// request for the same book.
	ErrConflict = errors.New("book already reserved for an overlapping period during the requested window")

	// ErrPermission is returned when a patron attempts a librarian-only action.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound is returned when a referenced book, account or request does not exist.
	ErrNotFound = repository.ErrNotFound

	// ErrAlreadyDecided is returned by Decide under one-shot decisions when
	// the request is no longer Pending.
	ErrAlreadyDecided = errors.New("borrow request has already been decided")

	// ErrDuplicateAccount is returned when a username is already taken.
	ErrDuplicateAccount = errors.New("username already taken")

	// ErrInvalidCredentials is returned by Authenticate for an unknown
	// username or a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
