package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrInvalidPick    = errors.New("invalid pick")
	ErrInvalidSession = errors.New("invalid session id")
)
