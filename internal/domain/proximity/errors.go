package proximity

import "errors"

// Sentinel kinds for tracker errors.
var (
	ErrInvalidEvent      = errors.New("invalid pick event")
	ErrRetriesExhausted  = errors.New("session update retries exhausted")
	ErrSessionActive     = errors.New("session still active")
	ErrSessionNotStarted = errors.New("session has no recorded state")
)
