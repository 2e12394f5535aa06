// Package redis implements store.Store on Redis so that players and consoles
// on different hosts share one command log and state read model.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llehouerou/jukebox/internal/store"
)

// DefaultCommandTTL is how long command rows are kept.
const DefaultCommandTTL = 24 * time.Hour

// Store is a Redis-backed store.Store.
type Store struct {
	rc         *redis.Client
	commandTTL time.Duration

	setStatus   *redis.Script
	upsertState *redis.Script
}

// Verify Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// New creates a store on rc. A commandTTL <= 0 uses DefaultCommandTTL.
func New(rc *redis.Client, commandTTL time.Duration) *Store {
	if commandTTL <= 0 {
		commandTTL = DefaultCommandTTL
	}
	return &Store{
		rc:         rc,
		commandTTL: commandTTL,
		// KEYS[1] command hash; ARGV: expected status ('' = any), new status,
		// result JSON ('' = none), updated_at, pending key prefix.
		// Returns -1 if the command does not exist, 0 if skipped, 1 if updated.
		setStatus: redis.NewScript(`
			local cur = redis.call('HGET', KEYS[1], 'status')
			if not cur then
				return -1
			end
			if ARGV[1] ~= '' and cur ~= ARGV[1] then
				return 0
			end
			redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[4])
			if ARGV[3] ~= '' then
				redis.call('HSET', KEYS[1], 'result', ARGV[3])
			end
			local player = redis.call('HGET', KEYS[1], 'target_player_id')
			local id = redis.call('HGET', KEYS[1], 'id')
			redis.call('ZREM', ARGV[5] .. player .. ':pending', id)
			return 1
		`),
		// KEYS[1] state hash; ARGV[1] revision, then field/value pairs.
		upsertState: redis.NewScript(`
			local cur = tonumber(redis.call('HGET', KEYS[1], 'revision') or '0')
			local rev = tonumber(ARGV[1])
			if rev <= cur then
				return 0
			end
			for i = 2, #ARGV, 2 do
				redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
			end
			redis.call('HSET', KEYS[1], 'revision', ARGV[1])
			return 1
		`),
	}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return rc, nil
}

const playerPrefix = "player:"

func (s *Store) getCommandKey(id string) string {
	return "command:" + id
}

func (s *Store) getPendingKey(playerID string) string {
	return playerPrefix + playerID + ":pending"
}

func (s *Store) getStateKey(playerID string) string {
	return playerPrefix + playerID + ":state"
}

// Repair is a no-op: Redis keys carry no schema to recreate.
func (s *Store) Repair(context.Context) error {
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rc.Close()
}

func (s *Store) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}
		return err
	}
	return nil
}

// wrap annotates err and maps type mismatches to store.ErrSchema.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("failed to %s: %w: %v", op, store.ErrSchema, err)
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
