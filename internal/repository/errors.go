package repository

import "errors"

var (
	// ErrNotFound is returned when a requested row doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a revision compare-and-swap fails
	ErrConflict = errors.New("conflict: row was modified concurrently")

	// ErrDuplicate is returned when a unique constraint fails
	ErrDuplicate = errors.New("duplicate key")
)
