package resolver

import (
	"errors"
	"fmt"

	"github.com/always-cache/record-resolver/store"
)

var (
	// ErrNotFound is the error lookups fail with when no record matches.
	// It is the same value as store.ErrNotFound.
	ErrNotFound = store.ErrNotFound
	// ErrAlreadyResolved is returned when a resolver is resolved twice.
	ErrAlreadyResolved = fmt.Errorf("Record already resolved")
	// ErrNotResolved is returned by accessors used before resolution.
	ErrNotResolved = fmt.Errorf("Record not resolved")
)

// AuthorizationError is returned when access to the found record is denied.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return "Not authorized to access record"
	}
	return "Not authorized to access record: " + e.Reason
}

// IsAuthorizationError reports whether err is or wraps an *AuthorizationError.
func IsAuthorizationError(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}
