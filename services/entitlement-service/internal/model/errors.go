package model

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means another writer committed first; the caller's view is stale.
	ErrConflict = errors.New("conflict")
)
