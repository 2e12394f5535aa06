// Package storetest holds the behavior every store.Store implementation
// must satisfy.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/store"
)

var base = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// Run exercises s against the store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CommandLifecycle", func(t *testing.T) { testCommandLifecycle(t, newStore(t)) })
	t.Run("PendingFilter", func(t *testing.T) { testPendingFilter(t, newStore(t)) })
	t.Run("GetCommandNotFound", func(t *testing.T) { testGetCommandNotFound(t, newStore(t)) })
	t.Run("ExpireCommands", func(t *testing.T) { testExpireCommands(t, newStore(t)) })
	t.Run("StateNotFound", func(t *testing.T) { testStateNotFound(t, newStore(t)) })
	t.Run("StatePatches", func(t *testing.T) { testStatePatches(t, newStore(t)) })
	t.Run("StaleRevision", func(t *testing.T) { testStaleRevision(t, newStore(t)) })
}

func cmd(id, player string, p command.Payload, at time.Time) command.Command {
	return command.New(id, player, "console", p, at)
}

func testCommandLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := cmd("c1", "bar", command.QueueAdd{Videos: []queue.Video{{Title: "song", Locator: "/v.mp4"}}}, base)

	require.NoError(t, s.InsertCommand(ctx, c))

	got, err := s.GetCommand(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, command.StatusPending, got.Status)
	assert.Equal(t, c.Payload, got.Payload)
	assert.True(t, c.IssuedAt.Equal(got.IssuedAt))

	require.NoError(t, s.UpdateCommandStatus(ctx, "c1", command.StatusFailed, &command.Result{Message: "nope"}))

	got, err = s.GetCommand(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, command.StatusFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "nope", got.Result.Message)
}

func testPendingFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertCommand(ctx, cmd("old", "bar", command.Skip{}, base.Add(-10*time.Minute))))
	require.NoError(t, s.InsertCommand(ctx, cmd("b", "bar", command.Pause{}, base.Add(2*time.Second))))
	require.NoError(t, s.InsertCommand(ctx, cmd("a", "bar", command.Skip{}, base.Add(time.Second))))
	require.NoError(t, s.InsertCommand(ctx, cmd("other", "lounge", command.Skip{}, base.Add(time.Second))))
	require.NoError(t, s.InsertCommand(ctx, cmd("done", "bar", command.Skip{}, base.Add(time.Second))))
	require.NoError(t, s.UpdateCommandStatus(ctx, "done", command.StatusExecuted, nil))

	got, err := s.QueryPendingCommands(ctx, "bar", base)
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func testGetCommandNotFound(t *testing.T, s store.Store) {
	_, err := s.GetCommand(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound), "err = %v", err)
}

func testExpireCommands(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertCommand(ctx, cmd("x", "bar", command.Skip{}, base)))
	require.NoError(t, s.InsertCommand(ctx, cmd("y", "bar", command.Skip{}, base)))

	require.NoError(t, s.ExpireCommands(ctx, []store.StatusUpdate{
		{ID: "x", Status: command.StatusExecuted},
		{ID: "y", Status: command.StatusFailed},
		{ID: "ghost", Status: command.StatusFailed},
	}))

	x, err := s.GetCommand(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, command.StatusExecuted, x.Status)
	y, err := s.GetCommand(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, command.StatusFailed, y.Status)

	pending, err := s.QueryPendingCommands(ctx, "bar", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testStateNotFound(t *testing.T, s store.Store) {
	_, err := s.GetState(context.Background(), "nobody")
	assert.True(t, errors.Is(err, store.ErrNotFound), "err = %v", err)
}

func testStatePatches(t *testing.T, s store.Store) {
	ctx := context.Background()
	np := queue.Video{Title: "now", Locator: "/now.mp4", Duration: 3 * time.Minute}

	ok, err := s.UpsertState(ctx, "bar", store.Patch{
		Fields: store.FieldStatus | store.FieldQueue | store.FieldVolume,
		State: store.State{
			Status:           store.StatusPlaying,
			NowPlaying:       &np,
			NowPlayingSource: queue.SourcePriority,
			Active:           []queue.Video{{Title: "a", Locator: "/a.mp4"}},
			Volume:           70,
		},
	}, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpsertState(ctx, "bar", store.Patch{
		Fields: store.FieldVolume | store.FieldConnection | store.FieldLastSeen,
		State:  store.State{Volume: 30, Connection: "connected", LastSeen: base},
	}, 11)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetState(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPlaying, got.Status)
	require.NotNil(t, got.NowPlaying)
	assert.Equal(t, np, *got.NowPlaying)
	assert.Equal(t, queue.SourcePriority, got.NowPlayingSource)
	assert.Len(t, got.Active, 1)
	assert.Empty(t, got.Priority)
	assert.Equal(t, 30, got.Volume)
	assert.Equal(t, "connected", got.Connection)
	assert.True(t, base.Equal(got.LastSeen))
	assert.Equal(t, int64(11), got.Revision)
}

func testStaleRevision(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.UpsertState(ctx, "bar", store.Patch{Fields: store.FieldVolume, State: store.State{Volume: 50}}, 20)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.UpsertState(ctx, "bar", store.Patch{Fields: store.FieldVolume, State: store.State{Volume: 10}}, 19)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpsertState(ctx, "bar", store.Patch{Fields: store.FieldVolume, State: store.State{Volume: 10}}, 20)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetState(ctx, "bar")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Volume)
}
