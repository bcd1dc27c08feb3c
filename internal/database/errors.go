package database

import "errors"

var (
	// ErrNotFound is returned when a row addressed by ID does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint
	// (roll number, email, or one attendance row per student and day).
	ErrDuplicate = errors.New("duplicate")
)
