package badgerstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/draftwatch/pkg/logger"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithLogger sets a custom logger for the store and the Badger engine.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to compute snapshot TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// badgerLogger routes Badger's printf-style logging into our logger.
type badgerLogger struct {
	l logger.Logger
}

func (b badgerLogger) msg(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(context.Background(), b.msg(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(context.Background(), b.msg(format, args...))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(context.Background(), b.msg(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(context.Background(), b.msg(format, args...))
}
