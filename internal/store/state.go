package store

import (
	"reflect"
	"time"

	"github.com/llehouerou/jukebox/internal/queue"
)

// PlaybackStatus is the published playback status of a player.
type PlaybackStatus string

const (
	StatusIdle    PlaybackStatus = "idle"
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
)

// State is the read model a player publishes for remote consoles.
type State struct {
	Status           PlaybackStatus `json:"status"`
	NowPlaying       *queue.Video   `json:"now_playing,omitempty"`
	NowPlayingSource queue.Source   `json:"now_playing_source"`
	Active           []queue.Video  `json:"active"`
	Priority         []queue.Video  `json:"priority"`
	Volume           int            `json:"volume"`
	Position         time.Duration  `json:"position"`
	Connection       string         `json:"connection"`
	LastSeen         time.Time      `json:"last_seen"`
	Revision         int64          `json:"revision"`
}

// Field is a bitmask of State fields carried by a Patch.
type Field uint16

const (
	FieldStatus     Field = 1 << iota
	FieldNowPlaying       // NowPlaying and NowPlayingSource
	FieldActive
	FieldPriority
	FieldVolume
	FieldPosition
	FieldConnection
	FieldLastSeen

	FieldQueue = FieldNowPlaying | FieldActive | FieldPriority
	FieldAll   = FieldStatus | FieldQueue | FieldVolume | FieldPosition | FieldConnection | FieldLastSeen
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{FieldStatus, "status"},
	{FieldNowPlaying, "now_playing"},
	{FieldActive, "active"},
	{FieldPriority, "priority"},
	{FieldVolume, "volume"},
	{FieldPosition, "position"},
	{FieldConnection, "connection"},
	{FieldLastSeen, "last_seen"},
}

// Names returns the column names of the set fields.
func (f Field) Names() []string {
	var out []string
	for _, fn := range fieldNames {
		if f&fn.f != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

// Patch is a partial State update: only fields in Fields are meaningful.
type Patch struct {
	Fields Field
	State  State
}

// QueuePatch builds a patch carrying the queues and the now-playing video.
func QueuePatch(s queue.State) Patch {
	return Patch{
		Fields: FieldQueue,
		State: State{
			NowPlaying:       s.NowPlaying,
			NowPlayingSource: s.NowPlayingSource,
			Active:           s.Active,
			Priority:         s.Priority,
		},
	}
}

// Empty reports whether the patch carries no field.
func (p Patch) Empty() bool {
	return p.Fields == 0
}

// Has reports whether f is set.
func (p Patch) Has(f Field) bool {
	return p.Fields&f == f
}

// Merge returns p overlaid with next; fields set in next win.
func (p Patch) Merge(next Patch) Patch {
	out := Patch{Fields: p.Fields | next.Fields, State: next.Apply(p.State)}
	return out
}

// Apply returns s with the patch fields copied over it.
func (p Patch) Apply(s State) State {
	if p.Has(FieldStatus) {
		s.Status = p.State.Status
	}
	if p.Has(FieldNowPlaying) {
		s.NowPlaying = cloneVideo(p.State.NowPlaying)
		s.NowPlayingSource = p.State.NowPlayingSource
	}
	if p.Has(FieldActive) {
		s.Active = cloneVideos(p.State.Active)
	}
	if p.Has(FieldPriority) {
		s.Priority = cloneVideos(p.State.Priority)
	}
	if p.Has(FieldVolume) {
		s.Volume = p.State.Volume
	}
	if p.Has(FieldPosition) {
		s.Position = p.State.Position
	}
	if p.Has(FieldConnection) {
		s.Connection = p.State.Connection
	}
	if p.Has(FieldLastSeen) {
		s.LastSeen = p.State.LastSeen
	}
	return s
}

// Changed returns the subset of p's fields whose values differ from s.
func (p Patch) Changed(s State) Field {
	var out Field
	applied := p.Apply(s)
	for _, fn := range fieldNames {
		if !p.Has(fn.f) {
			continue
		}
		if !fieldEqual(fn.f, s, applied) {
			out |= fn.f
		}
	}
	return out
}

func fieldEqual(f Field, a, b State) bool {
	switch f {
	case FieldStatus:
		return a.Status == b.Status
	case FieldNowPlaying:
		return a.NowPlayingSource == b.NowPlayingSource && reflect.DeepEqual(a.NowPlaying, b.NowPlaying)
	case FieldActive:
		return videosEqual(a.Active, b.Active)
	case FieldPriority:
		return videosEqual(a.Priority, b.Priority)
	case FieldVolume:
		return a.Volume == b.Volume
	case FieldPosition:
		return a.Position == b.Position
	case FieldConnection:
		return a.Connection == b.Connection
	case FieldLastSeen:
		return a.LastSeen.Equal(b.LastSeen)
	default:
		return false
	}
}

// videosEqual treats nil and empty as equal.
func videosEqual(a, b []queue.Video) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func cloneVideo(v *queue.Video) *queue.Video {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneVideos(v []queue.Video) []queue.Video {
	if v == nil {
		return nil
	}
	out := make([]queue.Video, len(v))
	copy(out, v)
	return out
}
