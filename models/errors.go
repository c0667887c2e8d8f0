package models

import "errors"

// Error kinds shared across the registries and services. Callers match with
// errors.Is; the concrete message carries the detail.
var (
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate")
	ErrState      = errors.New("invalid state")
	ErrAuth       = errors.New("unauthorized")
	ErrValidation = errors.New("validation failed")
	ErrIntegrity  = errors.New("integrity violation")
)
