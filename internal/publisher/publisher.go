// Package publisher writes the player's read model to the store. Bursts of
// updates are debounced into one write; queue changes the user must see at
// once bypass the debounce and supersede any write still in flight.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/llehouerou/jukebox/internal/errlog"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/timer"
)

// Defaults applied to zero Config fields.
const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultWriteTimeout = 10 * time.Second
)

// ErrClosed is returned by Flush once the publisher is closed.
var ErrClosed = errors.New("publisher closed")

// Config holds the publisher parameters.
type Config struct {
	PlayerID     string
	Debounce     time.Duration
	WriteTimeout time.Duration
	ErrorWindow  time.Duration
	Broadcast    bool // also publish snapshots on the player's state topic
}

// Deps are the collaborators of a Publisher. Channel is only used when
// Config.Broadcast is set.
type Deps struct {
	Store     store.Store
	Channel   push.Channel
	Scheduler *timer.Scheduler
	Errors    *errlog.Limiter
	Logger    *slog.Logger
}

// Publisher debounces playback state changes into shared store writes.
type Publisher struct {
	cfg     Config
	store   store.Store
	channel push.Channel
	sched   *timer.Scheduler
	errs    *errlog.Limiter
	logger  *slog.Logger
	guard   *store.SchemaGuard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   store.Patch
	published store.State
	hasState  bool
	gen       uint64
	inflight  *write
	lastRev   int64
	closed    bool
}

type write struct {
	gen    uint64
	patch  store.Patch
	rev    int64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a publisher. Zero Config durations take the package defaults.
func New(cfg Config, deps Deps) *Publisher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "publisher", "player", cfg.PlayerID)
	errs := deps.Errors
	if errs == nil {
		errs = errlog.New(logger, cfg.ErrorWindow, nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		cfg:     cfg,
		store:   deps.Store,
		channel: deps.Channel,
		sched:   deps.Scheduler,
		errs:    errs,
		logger:  logger,
		guard:   store.NewSchemaGuard(deps.Store, logger),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Seed sets the last published snapshot, typically the state restored from
// the store at startup, so unchanged fields are not written again.
func (p *Publisher) Seed(s store.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = s
	p.hasState = true
	p.lastRev = max(p.lastRev, s.Revision)
}

// Publish queues patch for writing. Without immediate the write waits for
// the debounce window to pass quietly; with immediate it starts now,
// aborting whatever write is still running.
func (p *Publisher) Publish(patch store.Patch, immediate bool) {
	if patch.Empty() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.guard.Disabled() {
		return
	}
	p.pending = p.pending.Merge(patch)
	if !immediate {
		p.sched.Schedule(timer.Debounce, p.cfg.Debounce, p.fire)
		return
	}
	p.sched.Cancel(timer.Debounce)
	p.startLocked()
}

func (p *Publisher) fire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.startLocked()
}

// startLocked supersedes the in-flight write, if any, and writes the fields
// of pending that differ from the last published snapshot.
func (p *Publisher) startLocked() {
	if w := p.inflight; w != nil {
		w.cancel()
		p.pending = w.patch.Merge(p.pending)
		p.inflight = nil
		p.logger.Debug("superseding in-flight write", "revision", w.rev)
	}
	if p.pending.Empty() {
		return
	}

	changed := p.pending.Fields
	if p.hasState {
		changed = p.pending.Changed(p.published)
	}
	patch := store.Patch{Fields: changed, State: p.pending.State}
	p.pending = store.Patch{}
	if patch.Empty() {
		return
	}

	p.gen++
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.WriteTimeout)
	w := &write{
		gen:    p.gen,
		patch:  patch,
		rev:    p.nextRevisionLocked(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.inflight = w
	p.wg.Add(1)
	go p.run(ctx, w)
}

// nextRevisionLocked returns a strictly increasing revision in unix
// microseconds, so it survives restarts and stays exact as a Lua number.
func (p *Publisher) nextRevisionLocked() int64 {
	rev := max(time.Now().UnixMicro(), p.lastRev+1)
	p.lastRev = rev
	return rev
}

func (p *Publisher) run(ctx context.Context, w *write) {
	defer p.wg.Done()
	defer close(w.done)
	defer w.cancel()

	ok, err := p.store.UpsertState(ctx, p.cfg.PlayerID, w.patch, w.rev)
	if err != nil && p.guard.Check(ctx, err) {
		ok, err = p.store.UpsertState(ctx, p.cfg.PlayerID, w.patch, w.rev)
	}

	p.mu.Lock()
	if w.gen != p.gen || p.inflight != w {
		// Superseded: the newer write carries these fields.
		p.mu.Unlock()
		return
	}
	p.inflight = nil

	if err != nil {
		if !p.guard.Disabled() {
			p.pending = w.patch.Merge(p.pending)
		}
		p.mu.Unlock()
		p.errs.Error("write", "state publish failed", err,
			"fields", w.patch.Fields.Names(),
			"revision", w.rev,
		)
		return
	}
	p.errs.Reset("write")
	if !ok {
		p.mu.Unlock()
		p.logger.Debug("store kept a newer revision", "revision", w.rev)
		return
	}
	p.published = w.patch.Apply(p.published)
	p.published.Revision = w.rev
	p.hasState = true
	snapshot := p.published
	p.mu.Unlock()

	p.logger.Debug("state published", "fields", w.patch.Fields.Names(), "revision", w.rev)
	if p.cfg.Broadcast && p.channel != nil {
		p.broadcast(ctx, snapshot)
	}
}

func (p *Publisher) broadcast(ctx context.Context, s store.State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := p.channel.Publish(ctx, push.StateTopic(p.cfg.PlayerID), b); err != nil {
		p.errs.Warn("broadcast", "state broadcast failed", err)
	}
}

// Snapshot returns the last successfully published state.
func (p *Publisher) Snapshot() store.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := store.Patch{Fields: store.FieldAll, State: p.published}.Apply(store.State{})
	s.Revision = p.published.Revision
	return s
}

// Pending reports whether a write is waiting or running.
func (p *Publisher) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.pending.Empty() || p.inflight != nil
}

// Flush writes pending fields now and waits for the write to settle or ctx
// to end. A write already running is awaited first, then whatever queued up
// behind it is written.
func (p *Publisher) Flush(ctx context.Context) error {
	for range 2 {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		p.sched.Cancel(timer.Debounce)
		if p.inflight == nil {
			p.startLocked()
		}
		w := p.inflight
		p.mu.Unlock()

		if w == nil {
			return nil
		}
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close flushes what is pending, then aborts any write still running.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.Flush(ctx)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	p.mu.Lock()
	p.closed = true
	p.sched.Cancel(timer.Debounce)
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	return err
}
