package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyPatch is returned when a patch would write no columns.
	ErrEmptyPatch = errors.New("empty patch")
)
