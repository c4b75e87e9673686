package store

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a row is already claimed or duplicated.
	ErrConflict = errors.New("conflict")
)
