package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Repairer recreates missing schema objects.
type Repairer interface {
	Repair(ctx context.Context) error
}

// SchemaGuard handles ErrSchema for one component: the first schema error
// triggers a repair, a second one disables the component for the session.
type SchemaGuard struct {
	repairer Repairer
	logger   *slog.Logger

	mu       sync.Mutex
	repaired bool
	disabled bool
}

// NewSchemaGuard creates a guard that repairs through r.
func NewSchemaGuard(r Repairer, logger *slog.Logger) *SchemaGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaGuard{repairer: r, logger: logger}
}

// Check inspects err and reports whether the caller should retry the
// failed operation once.
func (g *SchemaGuard) Check(ctx context.Context, err error) (retry bool) {
	if !errors.Is(err, ErrSchema) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabled {
		return false
	}
	if !g.repaired {
		g.repaired = true
		rerr := g.repairer.Repair(ctx)
		if rerr == nil {
			g.logger.Warn("store schema repaired", "cause", err)
			return true
		}
		g.logger.Error("store schema repair failed", "cause", err, "err", rerr)
	}
	g.disabled = true
	g.logger.Error("store schema still broken, disabling for this session", "err", err)
	return false
}

// Disabled reports whether the guarded component gave up.
func (g *SchemaGuard) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}
