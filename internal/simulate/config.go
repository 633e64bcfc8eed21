package simulate

import (
	"time"

	"github.com/okian/draftwatch/pkg/logger"
)

// Config controls one simulated draft.
type Config struct {
	BaseURL      string        // submit over HTTP when set, otherwise in-process
	SessionID    string        // generated when empty
	Participants int           // drafters in the snake order
	Rounds       int           // picks per drafter
	Seed         uint64        // same seed, same draft
	PickInterval time.Duration // wall-clock spacing written into pick timestamps
	Timeout      time.Duration // HTTP request timeout and idle wait bound
	ConsensusOut string        // optional CSV path for the generated consensus table
	Logger       logger.Logger
}

// Default configuration constants.
const (
	DefaultParticipants = 12
	DefaultRounds       = 15
	DefaultPickInterval = 30 * time.Second
	DefaultTimeout      = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Participants < 2 {
		c.Participants = DefaultParticipants
	}
	if c.Rounds < 1 {
		c.Rounds = DefaultRounds
	}
	if c.PickInterval <= 0 {
		c.PickInterval = DefaultPickInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
