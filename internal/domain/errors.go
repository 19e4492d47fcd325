package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")
	ErrDuplicate     = errors.New("dispatch already in flight")
	ErrDisabled      = errors.New("backend not configured")
)

// Cycle error taxonomy. Only ErrSnapshot and ErrOracle terminate a cycle.
var (
	ErrData       = errors.New("malformed snapshot record")
	ErrSnapshot   = errors.New("snapshot unavailable")
	ErrOracle     = errors.New("cost oracle exhausted")
	ErrValidation = errors.New("revalidation rejected opportunity")
	ErrContract   = fmt.Errorf("contract unavailable: %w", ErrValidation)
	ErrSubmission = errors.New("transaction submission failed")
)
