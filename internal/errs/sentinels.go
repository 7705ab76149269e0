// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrValidation indicates bad or missing input the caller can correct.
	ErrValidation = errors.New("validation")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotActive indicates the entity exists but is not in a state that allows the operation.
	ErrNotActive = errors.New("not active")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a privilege or eligibility failure.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates a cooldown or lockout is still in effect.
	ErrRateLimited = errors.New("rate limited")

	// ErrConflict indicates a duplicate creation attempt or a lost state race.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Machine-readable codes exposed to callers.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeNotActive     = "NOT_ACTIVE"
	CodeAuthorization = "AUTHORIZATION_ERROR"
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodeConflict      = "CONFLICT"
	CodeInternal      = "INTERNAL_ERROR"
)

// Code maps an error onto the public taxonomy. Unknown errors are internal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotActive):
		return CodeNotActive
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return CodeAuthorization
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimit
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyExists):
		return CodeConflict
	default:
		return CodeInternal
	}
}
