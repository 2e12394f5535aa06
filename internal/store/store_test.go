package store_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/store/storetest"
)

func TestMock_Contract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return store.NewMock() })
}

func TestPatch_MergeLatestWins(t *testing.T) {
	a := store.Patch{Fields: store.FieldVolume | store.FieldStatus, State: store.State{Volume: 10, Status: store.StatusPlaying}}
	b := store.Patch{Fields: store.FieldVolume | store.FieldPosition, State: store.State{Volume: 20, Position: time.Second}}

	m := a.Merge(b)

	assert.Equal(t, store.FieldVolume|store.FieldStatus|store.FieldPosition, m.Fields)
	assert.Equal(t, 20, m.State.Volume)
	assert.Equal(t, store.StatusPlaying, m.State.Status)
	assert.Equal(t, time.Second, m.State.Position)
}

func TestPatch_ApplyLeavesOtherFields(t *testing.T) {
	s := store.State{Volume: 80, Connection: "connected"}

	got := store.Patch{Fields: store.FieldConnection, State: store.State{Volume: 1, Connection: "reconnecting"}}.Apply(s)

	assert.Equal(t, 80, got.Volume)
	assert.Equal(t, "reconnecting", got.Connection)
}

func TestPatch_Changed(t *testing.T) {
	last := store.State{
		Volume: 50,
		Active: []queue.Video{{Locator: "/a"}},
	}
	p := store.Patch{
		Fields: store.FieldVolume | store.FieldActive | store.FieldPriority,
		State:  store.State{Volume: 50, Active: []queue.Video{{Locator: "/a"}, {Locator: "/b"}}, Priority: []queue.Video{}},
	}

	assert.Equal(t, store.FieldActive, p.Changed(last))
}

func TestField_Names(t *testing.T) {
	assert.Equal(t, []string{"now_playing", "active", "priority"}, store.FieldQueue.Names())
}

type repairer struct {
	calls int
	err   error
}

func (r *repairer) Repair(context.Context) error {
	r.calls++
	return r.err
}

func TestSchemaGuard_RepairOnceThenDisable(t *testing.T) {
	r := &repairer{}
	g := store.NewSchemaGuard(r, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	schemaErr := errors.Join(store.ErrSchema, errors.New("no such table: player_state"))

	assert.False(t, g.Check(ctx, errors.New("network")), "non-schema errors never retry")
	assert.True(t, g.Check(ctx, schemaErr), "first schema error retries after repair")
	assert.False(t, g.Check(ctx, schemaErr), "second schema error disables")
	assert.True(t, g.Disabled())
	assert.False(t, g.Check(ctx, schemaErr))
	assert.Equal(t, 1, r.calls)
}

func TestSchemaGuard_RepairFailureDisables(t *testing.T) {
	r := &repairer{err: errors.New("read-only")}
	g := store.NewSchemaGuard(r, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.False(t, g.Check(context.Background(), store.ErrSchema))
	assert.True(t, g.Disabled())
}
