// Package commons holds small cross-cutting pieces shared by every other
// package in this module — today, just the structured logger.
package commons

import (
	"go.uber.org/zap"
)

// Logger is the structured logging contract every component takes by
// constructor injection. It mirrors zap's SugaredLogger surface so call
// sites read as key/value pairs rather than formatted strings.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
	// With returns a Logger that prefixes every subsequent entry with kv,
	// e.g. a per-session id.
	With(kv ...any) Logger
	// Sync flushes any buffered log entries. Safe to call on shutdown.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewApplicationLogger builds the process-wide Logger. In production it
// wraps zap's default production config; callers that need a no-op logger
// for tests should use NewNopLogger instead.
func NewApplicationLogger() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

// NewNopLogger returns a Logger that discards everything. Used by tests
// and by components constructed without an explicit logger.
func NewNopLogger() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debugw(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }
