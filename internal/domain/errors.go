package domain

import "errors"

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")

	// ErrOverloaded signals transient upstream capacity exhaustion.
	// It is the only error class the gateway retries.
	ErrOverloaded = errors.New("upstream overloaded")
)
