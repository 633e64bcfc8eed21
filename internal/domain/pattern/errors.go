package pattern

import "errors"

// Sentinel kinds for aggregation errors.
var (
	ErrInvalidLookback = errors.New("lookback must be positive")
	ErrInvalidTiers    = errors.New("invalid risk tiers")
)
