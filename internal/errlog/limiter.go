// Package errlog keeps repeated failures from flooding the log: each error
// key is logged at most once per window, with a count of what was skipped.
package errlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the default suppression window.
const DefaultWindow = 60 * time.Second

// Limiter logs each key at most once per window.
type Limiter struct {
	logger *slog.Logger
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]entry
}

type entry struct {
	at         time.Time
	suppressed int
}

// New creates a limiter. A window <= 0 uses DefaultWindow; a nil now uses time.Now.
func New(logger *slog.Logger, window time.Duration, now func() time.Time) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		logger: logger,
		window: window,
		now:    now,
		last:   make(map[string]entry),
	}
}

// Error logs msg under key unless the same key was logged within the window.
// Returns whether the record was written.
func (l *Limiter) Error(key, msg string, err error, args ...any) bool {
	return l.log(slog.LevelError, key, msg, append(args, "err", err)...)
}

// Warn is Error at warning level.
func (l *Limiter) Warn(key, msg string, err error, args ...any) bool {
	return l.log(slog.LevelWarn, key, msg, append(args, "err", err)...)
}

func (l *Limiter) log(level slog.Level, key, msg string, args ...any) bool {
	now := l.now()
	l.mu.Lock()
	e, seen := l.last[key]
	if seen && now.Sub(e.at) < l.window {
		e.suppressed++
		l.last[key] = e
		l.mu.Unlock()
		return false
	}
	suppressed := e.suppressed
	l.last[key] = entry{at: now}
	l.mu.Unlock()

	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	l.logger.Log(context.Background(), level, msg, args...)
	return true
}

// Reset forgets key so its next failure is logged immediately.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
}
