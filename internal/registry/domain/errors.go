package domain

import "errors"

// Sentinel errors shared across the registry. The HTTP layer maps these to
// status codes; everything else wraps them with context via fmt.Errorf.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
	ErrForbidden    = errors.New("forbidden")

	// ErrLockHeld is returned when a lock exists, has not expired, and is
	// owned by a different caller.
	ErrLockHeld = errors.New("lock held by another owner")
	// ErrLockLimit is returned when the environment's concurrency cap is
	// already saturated by locks the caller does not own.
	ErrLockLimit = errors.New("lock concurrency limit reached")
	// ErrLockNotOwner is returned by renew/release when the row exists but
	// belongs to someone else.
	ErrLockNotOwner = errors.New("lock not owned by caller")

	// ErrLastOwner guards the "every organization keeps at least one owner"
	// invariant.
	ErrLastOwner = errors.New("organization must retain at least one owner")
	// ErrLastEnvironment guards the "every workspace keeps at least one
	// environment" invariant.
	ErrLastEnvironment = errors.New("workspace must retain at least one environment")
)
