package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/store"
)

// UpsertState writes only the fields carried by patch. The revision check
// runs inside a script so concurrent writers cannot interleave.
func (s *Store) UpsertState(ctx context.Context, playerID string, patch store.Patch, revision int64) (bool, error) {
	args, err := patchArgs(patch)
	if err != nil {
		return false, err
	}
	argv := append([]any{revision}, args...)
	n, err := s.upsertState.Run(ctx, s.rc, []string{s.getStateKey(playerID)}, argv...).Int64()
	if err != nil {
		return false, wrap("upsert state", err)
	}
	return n == 1, nil
}

func patchArgs(p store.Patch) ([]any, error) {
	var args []any
	add := func(k string, v any) { args = append(args, k, v) }
	st := p.State

	if p.Has(store.FieldStatus) {
		add("status", string(st.Status))
	}
	if p.Has(store.FieldNowPlaying) {
		np := ""
		if st.NowPlaying != nil {
			b, err := json.Marshal(st.NowPlaying)
			if err != nil {
				return nil, fmt.Errorf("marshal now_playing: %w", err)
			}
			np = string(b)
		}
		add("now_playing", np)
		add("now_playing_source", st.NowPlayingSource.String())
	}
	for _, q := range []struct {
		f      store.Field
		name   string
		videos []queue.Video
	}{
		{store.FieldActive, "active", st.Active},
		{store.FieldPriority, "priority", st.Priority},
	} {
		if !p.Has(q.f) {
			continue
		}
		videos := q.videos
		if videos == nil {
			videos = []queue.Video{}
		}
		b, err := json.Marshal(videos)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", q.name, err)
		}
		add(q.name, string(b))
	}
	if p.Has(store.FieldVolume) {
		add("volume", st.Volume)
	}
	if p.Has(store.FieldPosition) {
		add("position", int64(st.Position))
	}
	if p.Has(store.FieldConnection) {
		add("connection", st.Connection)
	}
	if p.Has(store.FieldLastSeen) {
		var ms int64
		if !st.LastSeen.IsZero() {
			ms = st.LastSeen.UnixMilli()
		}
		add("last_seen", ms)
	}
	return args, nil
}

func (s *Store) GetState(ctx context.Context, playerID string) (store.State, error) {
	fields, err := s.rc.HGetAll(ctx, s.getStateKey(playerID)).Result()
	if err != nil {
		return store.State{}, wrap("get state", err)
	}
	if len(fields) == 0 {
		return store.State{}, fmt.Errorf("player %s: %w", playerID, store.ErrNotFound)
	}

	st := store.State{
		Status:     store.PlaybackStatus(fields["status"]),
		Connection: fields["connection"],
		Volume:     fieldToInt(fields["volume"]),
		Position:   time.Duration(fieldToInt64(fields["position"])),
		Revision:   fieldToInt64(fields["revision"]),
	}
	if st.Status == "" {
		st.Status = store.StatusIdle
	}
	if np := fields["now_playing"]; np != "" {
		var v queue.Video
		if err := json.Unmarshal([]byte(np), &v); err != nil {
			return store.State{}, fmt.Errorf("decode now_playing: %w", err)
		}
		st.NowPlaying = &v
	}
	if st.NowPlayingSource, err = queue.ParseSource(fields["now_playing_source"]); err != nil {
		return store.State{}, err
	}
	if st.Active, err = decodeVideos(fields["active"]); err != nil {
		return store.State{}, fmt.Errorf("decode active: %w", err)
	}
	if st.Priority, err = decodeVideos(fields["priority"]); err != nil {
		return store.State{}, fmt.Errorf("decode priority: %w", err)
	}
	if ms := fieldToInt64(fields["last_seen"]); ms != 0 {
		st.LastSeen = time.UnixMilli(ms).UTC()
	}
	return st, nil
}

func decodeVideos(raw string) ([]queue.Video, error) {
	if raw == "" {
		return nil, nil
	}
	var v []queue.Video
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func fieldToInt(field string) int {
	i, _ := strconv.Atoi(field)
	return i
}

func fieldToInt64(field string) int64 {
	i, _ := strconv.ParseInt(field, 10, 64)
	return i
}
