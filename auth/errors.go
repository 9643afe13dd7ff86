package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for a bad identifier or password.
	// It is deliberately generic: callers must not be able to tell whether
	// the account exists.
	ErrInvalidCredentials = errors.New("invalid identifier or password")

	// ErrMFANotConfigured is returned when an MFA operation requires an
	// enabled second factor and the account has none.
	ErrMFANotConfigured = errors.New("multi-factor authentication is not configured")

	// ErrMFAAlreadyEnabled is returned when setup is attempted on an
	// account whose second factor is already active.
	ErrMFAAlreadyEnabled = errors.New("multi-factor authentication is already enabled")

	// ErrInvalidPendingToken is returned when a pending-MFA token is
	// expired, malformed, already consumed, or of the wrong type.
	ErrInvalidPendingToken = errors.New("invalid or expired pending token")

	// ErrDeviceNotFound is returned when revoking a trusted device that
	// does not exist or belongs to another account.
	ErrDeviceNotFound = errors.New("trusted device not found")

	// ErrInvalidCode is the base error for a wrong TOTP or recovery code.
	// Rate-limited paths return InvalidCodeError, which wraps it.
	ErrInvalidCode = errors.New("invalid verification code")
)

// RateLimitedError is returned when the attempt limiter has locked the key.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

// InvalidCodeError is returned for a wrong TOTP or recovery code. It carries
// how many attempts remain before lockout so clients can warn the user.
type InvalidCodeError struct {
	AttemptsLeft int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts left", e.AttemptsLeft)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }
