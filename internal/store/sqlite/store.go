// Package sqlite implements store.Store on a local SQLite database.
// It suits a single venue where the player and its consoles share a host.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/db"
	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/store"
)

const (
	appName    = "jukebox"
	dbFileName = "jukebox.db"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Verify Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// DefaultPath returns the database path under the XDG data directory.
func DefaultPath() (string, error) {
	return xdg.DataFile(filepath.Join(appName, dbFileName))
}

// Open opens (and initializes) the database at path.
// An empty path uses DefaultPath.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		path = p
	}
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: conn}, nil
}

// New wraps an already opened database without touching its schema.
func New(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Repair recreates missing tables and columns.
func (s *Store) Repair(ctx context.Context) error {
	return initSchema(ctx, s.db)
}

func (s *Store) InsertCommand(ctx context.Context, c command.Command) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	status := c.Status
	if status == "" {
		status = command.StatusPending
	}
	result, err := marshalResult(c.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (id, target_player_id, type, payload, issued_by, issued_at, status, result, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TargetPlayerID, string(c.Type), string(payload), c.IssuedBy,
		c.IssuedAt.UnixNano(), string(status), result, time.Now().UnixNano())
	if err != nil {
		return wrap("insert command", err)
	}
	return nil
}

func (s *Store) UpdateCommandStatus(ctx context.Context, id string, status command.Status, result *command.Result) error {
	res, err := marshalResult(result)
	if err != nil {
		return err
	}
	r, err := s.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, result = ?, updated_at = ? WHERE id = ?
	`, string(status), res, time.Now().UnixNano(), id)
	if err != nil {
		return wrap("update command status", err)
	}
	if n, err := r.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("command %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) QueryPendingCommands(ctx context.Context, playerID string, since time.Time) ([]command.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_player_id, type, payload, issued_by, issued_at, status, result
		FROM commands
		WHERE target_player_id = ? AND status = ? AND issued_at >= ?
		ORDER BY issued_at, id
	`, playerID, string(command.StatusPending), since.UnixNano())
	if err != nil {
		return nil, wrap("query pending commands", err)
	}
	defer rows.Close()

	var out []command.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query pending commands", err)
	}
	return out, nil
}

func (s *Store) GetCommand(ctx context.Context, id string) (command.Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_player_id, type, payload, issued_by, issued_at, status, result
		FROM commands WHERE id = ?
	`, id)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return command.Command{}, fmt.Errorf("command %s: %w", id, store.ErrNotFound)
	}
	return c, err
}

func (s *Store) ExpireCommands(ctx context.Context, updates []store.StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE commands SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := time.Now().UnixNano()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, string(u.Status), now, u.ID, string(command.StatusPending)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("expire commands", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(row scanner) (command.Command, error) {
	var (
		c        command.Command
		typ      string
		payload  string
		issuedAt int64
		status   string
		result   sql.NullString
	)
	if err := row.Scan(&c.ID, &c.TargetPlayerID, &typ, &payload, &c.IssuedBy, &issuedAt, &status, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, wrap("scan command", err)
	}
	c.Type = command.Type(typ)
	p, err := command.DecodePayload(c.Type, []byte(payload))
	if err != nil {
		return c, err
	}
	c.Payload = p
	c.IssuedAt = time.Unix(0, issuedAt).UTC()
	c.Status = command.Status(status)
	if r := db.NullStringValue(result); r != "" {
		var res command.Result
		if err := json.Unmarshal([]byte(r), &res); err != nil {
			return c, fmt.Errorf("decode result of %s: %w", c.ID, err)
		}
		c.Result = &res
	}
	return c, nil
}

func marshalResult(r *command.Result) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal result: %w", err)
	}
	return db.NullString(string(b)), nil
}

func (s *Store) GetState(ctx context.Context, playerID string) (store.State, error) {
	st, _, err := getState(ctx, s.db, playerID)
	if err != nil {
		return store.State{}, err
	}
	return st, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getState(ctx context.Context, q querier, playerID string) (store.State, bool, error) {
	var (
		st         store.State
		status     string
		nowPlaying sql.NullString
		source     string
		active     string
		priority   string
		position   int64
		lastSeen   int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT status, now_playing, now_playing_source, active, priority, volume, position, connection, last_seen, revision
		FROM player_state WHERE player_id = ?
	`, playerID).Scan(&status, &nowPlaying, &source, &active, &priority, &st.Volume, &position, &st.Connection, &lastSeen, &st.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return store.State{}, false, fmt.Errorf("player %s: %w", playerID, store.ErrNotFound)
	}
	if err != nil {
		return store.State{}, false, wrap("get state", err)
	}

	st.Status = store.PlaybackStatus(status)
	if v := db.NullStringValue(nowPlaying); v != "" {
		var np queue.Video
		if err := json.Unmarshal([]byte(v), &np); err != nil {
			return store.State{}, false, fmt.Errorf("decode now_playing: %w", err)
		}
		st.NowPlaying = &np
	}
	if st.NowPlayingSource, err = queue.ParseSource(source); err != nil {
		return store.State{}, false, err
	}
	if err := json.Unmarshal([]byte(active), &st.Active); err != nil {
		return store.State{}, false, fmt.Errorf("decode active: %w", err)
	}
	if err := json.Unmarshal([]byte(priority), &st.Priority); err != nil {
		return store.State{}, false, fmt.Errorf("decode priority: %w", err)
	}
	st.Position = time.Duration(position)
	if lastSeen != 0 {
		st.LastSeen = time.Unix(0, lastSeen).UTC()
	}
	return st, true, nil
}

func (s *Store) UpsertState(ctx context.Context, playerID string, patch store.Patch, revision int64) (bool, error) {
	applied := false
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, _, err := getState(ctx, tx, playerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if revision <= cur.Revision {
			return nil
		}
		next := patch.Apply(cur)

		var nowPlaying sql.NullString
		if next.NowPlaying != nil {
			b, err := json.Marshal(next.NowPlaying)
			if err != nil {
				return err
			}
			nowPlaying = db.NullString(string(b))
		}
		active, err := marshalVideos(next.Active)
		if err != nil {
			return err
		}
		priority, err := marshalVideos(next.Priority)
		if err != nil {
			return err
		}
		var lastSeen int64
		if !next.LastSeen.IsZero() {
			lastSeen = next.LastSeen.UnixNano()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO player_state (player_id, status, now_playing, now_playing_source, active, priority,
				volume, position, connection, last_seen, revision)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(player_id) DO UPDATE SET
				status = excluded.status,
				now_playing = excluded.now_playing,
				now_playing_source = excluded.now_playing_source,
				active = excluded.active,
				priority = excluded.priority,
				volume = excluded.volume,
				position = excluded.position,
				connection = excluded.connection,
				last_seen = excluded.last_seen,
				revision = excluded.revision
			WHERE excluded.revision > player_state.revision
		`, playerID, string(next.Status), nowPlaying, next.NowPlayingSource.String(), active, priority,
			next.Volume, int64(next.Position), next.Connection, lastSeen, revision)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, wrap("upsert state", err)
	}
	return applied, nil
}

func marshalVideos(v []queue.Video) (string, error) {
	if v == nil {
		v = []queue.Video{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal videos: %w", err)
	}
	return string(b), nil
}

// wrap annotates err and maps missing tables or columns to store.ErrSchema.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrSchema) || errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "has no column named") {
		return fmt.Errorf("%s: %w: %v", op, store.ErrSchema, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
