package errors

import (
	"errors"
	"fmt"
)

// Session and token error taxonomy. Every failure leaving the gateway, the refresh
// coordinator or the HTTP middleware wraps exactly one of these.
var (
	// Authentication errors
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInsufficientPrivilege = errors.New("insufficient privilege")

	// Refresh errors
	ErrRefreshCredentialExpired = errors.New("refresh credential expired")
	ErrRefreshCredentialInvalid = errors.New("refresh credential invalid")
	ErrNoSession                = errors.New("no session")

	// Token errors
	ErrMalformedToken = errors.New("malformed token")

	// Transport errors
	ErrNetworkError     = errors.New("network error")
	ErrUnexpectedStatus = errors.New("unexpected status")

	// Storage errors
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflicting write")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers only import this package.
func New(text string) error {
	return errors.New(text)
}

// IsCredentialFailure reports whether err means the session can no longer be
// refreshed and the user has to sign in again.
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrRefreshCredentialExpired) ||
		errors.Is(err, ErrRefreshCredentialInvalid) ||
		errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInsufficientPrivilege)
}
