// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication. Callers must not learn why.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacking the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates an exhausted request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates a semantically invalid argument; wrap it with the field name.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClassifierTimeout indicates the classification collaborator did not answer in time.
	ErrClassifierTimeout = errors.New("classifier timeout")

	// ErrUnavailable indicates an external collaborator failed or is not configured.
	ErrUnavailable = errors.New("unavailable")
)
