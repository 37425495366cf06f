package storage

import "errors"

// Sentinel errors for ledger operations.
var (
	// ErrNotFound is returned when no record has the given ID.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record with the given ID already exists.
	ErrConflict = errors.New("record already exists")
)
