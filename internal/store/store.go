// Package store defines the persistent store shared by players and remote
// consoles: the command log and the per-player published state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
)

var (
	// ErrNotFound is returned when a command or player state does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSchema is returned when the backing schema is missing or outdated.
	ErrSchema = errors.New("schema mismatch")
)

// StatusUpdate sets the terminal status of one command.
type StatusUpdate struct {
	ID     string
	Status command.Status
}

// Store is the persistent store contract.
type Store interface {
	// InsertCommand records a new pending command.
	InsertCommand(ctx context.Context, c command.Command) error
	// UpdateCommandStatus moves a command to a terminal status.
	UpdateCommandStatus(ctx context.Context, id string, status command.Status, result *command.Result) error
	// QueryPendingCommands returns the pending commands of playerID issued at
	// or after since, oldest first.
	QueryPendingCommands(ctx context.Context, playerID string, since time.Time) ([]command.Command, error)
	// GetCommand returns one command by ID.
	GetCommand(ctx context.Context, id string) (command.Command, error)
	// ExpireCommands batch-updates commands to their terminal status.
	ExpireCommands(ctx context.Context, updates []StatusUpdate) error

	// GetState returns the last published state of playerID.
	GetState(ctx context.Context, playerID string) (State, error)
	// UpsertState applies patch to the state of playerID if revision is newer
	// than the stored one. Returns false when the write was discarded as stale.
	UpsertState(ctx context.Context, playerID string, patch Patch, revision int64) (bool, error)

	// Repair recreates missing schema objects.
	Repair(ctx context.Context) error
	Close() error
}
