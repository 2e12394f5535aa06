package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/store/storetest"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(rc, time.Hour)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestStore_CommandExpires(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertCommand(ctx, command.New("c1", "bar", "", command.Skip{}, now)))

	mr.FastForward(2 * time.Hour)

	_, err := s.GetCommand(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	pending, err := s.QueryPendingCommands(ctx, "bar", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStore_WrongTypeIsSchemaError(t *testing.T) {
	s, mr := setupTestStore(t)
	require.NoError(t, mr.Set("player:bar:state", "garbage"))

	_, err := s.GetState(context.Background(), "bar")

	assert.ErrorIs(t, err, store.ErrSchema)
}

func TestStore_PartialPatchKeepsOtherFields(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertState(ctx, "bar", store.Patch{Fields: store.FieldVolume, State: store.State{Volume: 42}}, 1)
	require.NoError(t, err)
	_, err = s.UpsertState(ctx, "bar", store.Patch{Fields: store.FieldConnection, State: store.State{Connection: "connected"}}, 2)
	require.NoError(t, err)

	assert.Equal(t, "42", mr.HGet("player:bar:state", "volume"))
	assert.Equal(t, "connected", mr.HGet("player:bar:state", "connection"))
	assert.Equal(t, "2", mr.HGet("player:bar:state", "revision"))
}
