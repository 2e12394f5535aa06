package queue

import (
	"math/rand/v2"
	"time"
)

// State is a point-in-time copy of the engine's queues.
type State struct {
	Active           []Video `json:"active"`
	Priority         []Video `json:"priority"`
	NowPlaying       *Video  `json:"now_playing,omitempty"`
	NowPlayingSource Source  `json:"now_playing_source"`
}

// Engine owns the active and priority queues and the now-playing slot.
//
// Selection order: priority head, then active head, then nothing.
// On rotation the outgoing video goes back to the tail of the active queue
// only when it came from the active queue. Priority entries play once.
//
// Engine does no I/O and is not safe for concurrent use.
type Engine struct {
	active     *List
	priority   *List
	nowPlaying *Video
	source     Source
	rng        *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the random source used by Shuffle.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = r
	}
}

// NewEngine creates an engine with empty queues.
func NewEngine(opts ...Option) *Engine {
	now := uint64(time.Now().UnixNano()) //nolint:gosec // seed only
	e := &Engine{
		active:   NewList(),
		priority: NewList(),
		rng:      rand.New(rand.NewPCG(now, now>>32)), //nolint:gosec // shuffle, not crypto
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PeekNext returns the video that would play next without changing anything.
func (e *Engine) PeekNext() (*Video, Source) {
	if v := e.priority.Front(); v != nil {
		return v, SourcePriority
	}
	if v := e.active.Front(); v != nil {
		return v, SourceActive
	}
	return nil, SourceNone
}

// StartPlayback dequeues the next video and makes it the now-playing one.
// Unlike Rotate it does not recycle the current video.
func (e *Engine) StartPlayback() (*Video, Source) {
	return e.advance()
}

// Rotate moves to the next video. An active-sourced now-playing video is
// appended to the active queue first. With both queues empty the engine
// ends up with nothing playing.
func (e *Engine) Rotate() (*Video, Source) {
	if e.nowPlaying != nil && e.source == SourceActive {
		e.active.Append(*e.nowPlaying)
	}
	return e.advance()
}

func (e *Engine) advance() (*Video, Source) {
	var (
		v   Video
		src Source
		ok  bool
	)
	if v, ok = e.priority.PopFront(); ok {
		src = SourcePriority
	} else if v, ok = e.active.PopFront(); ok {
		src = SourceActive
	}
	if !ok {
		e.nowPlaying = nil
		e.source = SourceNone
		return nil, SourceNone
	}
	e.nowPlaying = &v
	e.source = src
	out := v
	return &out, src
}

// NowPlaying returns a copy of the now-playing video and its source.
func (e *Engine) NowPlaying() (*Video, Source) {
	if e.nowPlaying == nil {
		return nil, SourceNone
	}
	v := *e.nowPlaying
	return &v, e.source
}

// Stop clears the now-playing slot without recycling it.
func (e *Engine) Stop() {
	e.nowPlaying = nil
	e.source = SourceNone
}

// AddActive appends videos to the active queue.
func (e *Engine) AddActive(videos ...Video) {
	e.active.Append(videos...)
}

// InsertActive inserts v into the active queue at pos.
// A position past the tail appends.
func (e *Engine) InsertActive(pos int, v Video) bool {
	return e.active.Insert(pos, v)
}

// AddPriority appends videos to the priority queue.
func (e *Engine) AddPriority(videos ...Video) {
	e.priority.Append(videos...)
}

// ReplaceActive swaps the active queue content, leaving now-playing alone.
func (e *Engine) ReplaceActive(videos []Video) {
	e.active.Replace(videos)
}

// Remove removes the entry at index from queue q.
func (e *Engine) Remove(q Source, index int) bool {
	l := e.list(q)
	if l == nil {
		return false
	}
	return l.Remove(index)
}

// Clear empties queue q.
func (e *Engine) Clear(q Source) {
	if l := e.list(q); l != nil {
		l.Clear()
	}
}

// Shuffle permutes queue q uniformly. With keepFirst the head stays in place.
func (e *Engine) Shuffle(q Source, keepFirst bool) {
	if l := e.list(q); l != nil {
		l.Shuffle(e.rng, keepFirst)
	}
}

// Len returns the length of queue q.
func (e *Engine) Len(q Source) int {
	if l := e.list(q); l != nil {
		return l.Len()
	}
	return 0
}

func (e *Engine) list(q Source) *List {
	switch q {
	case SourceActive:
		return e.active
	case SourcePriority:
		return e.priority
	default:
		return nil
	}
}

// Snapshot returns a deep copy of the engine state.
func (e *Engine) Snapshot() State {
	np, src := e.NowPlaying()
	return State{
		Active:           e.active.Videos(),
		Priority:         e.priority.Videos(),
		NowPlaying:       np,
		NowPlayingSource: src,
	}
}

// Restore replaces the engine state with s.
func (e *Engine) Restore(s State) {
	e.active.Replace(s.Active)
	e.priority.Replace(s.Priority)
	if s.NowPlaying == nil || s.NowPlayingSource == SourceNone {
		e.nowPlaying = nil
		e.source = SourceNone
		return
	}
	v := *s.NowPlaying
	e.nowPlaying = &v
	e.source = s.NowPlayingSource
}
