package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single client command.
type LogContext struct {
	Session   string    // session handle, formatted as used in CONNECTION_* log lines
	Command   string    // protocol command: OPEN, WRITE, LOCK, etc.
	Pathname  string    // pathname argument of the current command, if any
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a session.
func NewLogContext(session string) *LogContext {
	return &LogContext{
		Session:   session,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		Session:   lc.Session,
		Command:   lc.Command,
		Pathname:  lc.Pathname,
		StartTime: lc.StartTime,
	}
}

// WithCommand returns a copy with the command and pathname set
func (lc *LogContext) WithCommand(cmd, pathname string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Command = cmd
		clone.Pathname = pathname
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
