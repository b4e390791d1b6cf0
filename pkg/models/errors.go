package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is; the API layer maps these
// to HTTP statuses.
var (
	// ErrValidation rejects a request before any storage mutation.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized denies access to a thread. It carries no detail
	// about other tenants' threads.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorageUnavailable surfaces storage failures for the caller to
	// retry under its own policy; the core never auto-retries appends.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Wrapped validation variants for the two rejection causes.
var (
	ErrEmptyBody     = fmt.Errorf("%w: body is required", ErrValidation)
	ErrMissingTenant = fmt.Errorf("%w: tenant id is required", ErrValidation)
)
