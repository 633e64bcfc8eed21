package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("version conflict")
	ErrInvalidInput = errors.New("invalid store input")
	ErrClosed       = errors.New("store closed")
)
