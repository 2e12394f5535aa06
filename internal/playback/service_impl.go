package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/connection"
	"github.com/llehouerou/jukebox/internal/dispatch"
	"github.com/llehouerou/jukebox/internal/errmsg"
	"github.com/llehouerou/jukebox/internal/media"
	"github.com/llehouerou/jukebox/internal/player"
	"github.com/llehouerou/jukebox/internal/publisher"
	"github.com/llehouerou/jukebox/internal/queue"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/timer"
)

const (
	DefaultHeartbeat = 15 * time.Second
	localIssuer      = "local"
	restoreTimeout   = 10 * time.Second
)

var ErrQueueEmpty = errors.New("queue is empty")

// Config holds the service parameters.
type Config struct {
	PlayerID  string
	Heartbeat time.Duration
	// Autoplay starts playback when videos are queued into an idle player
	// and resumes a restored session that was playing.
	Autoplay bool
}

// Deps are the collaborators of the service. Machine and Store are
// optional.
type Deps struct {
	Engine     *queue.Engine
	Player     player.Interface
	Media      media.Source
	Publisher  *publisher.Publisher
	Dispatcher *dispatch.Dispatcher
	Scheduler  *timer.Scheduler
	Machine    *connection.Machine
	Store      store.Store
	Logger     *slog.Logger
}

// Verify serviceImpl implements Service at compile time.
var _ Service = (*serviceImpl)(nil)

type serviceImpl struct {
	cfg        Config
	player     player.Interface
	media      media.Source
	publisher  *publisher.Publisher
	dispatcher *dispatch.Dispatcher
	sched      *timer.Scheduler
	machine    *connection.Machine
	store      store.Store
	validator  *command.Validator
	logger     *slog.Logger

	// mu guards the engine and the mirrored fields. Mutations happen on the
	// dispatch goroutine; readers may be anywhere.
	mu         sync.RWMutex
	engine     *queue.Engine
	state      State
	connection string

	subs   []*Subscription
	subsMu sync.RWMutex

	unobserve func()
	done      chan struct{}
	wg        sync.WaitGroup
	started   bool
	closed    bool
}

// New creates the playback service and registers its command handlers on
// the dispatcher.
func New(cfg Config, deps Deps) (Service, error) {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := deps.Engine
	if engine == nil {
		engine = queue.NewEngine()
	}
	src := deps.Media
	if src == nil {
		src = media.Passthrough{}
	}
	s := &serviceImpl{
		cfg:        cfg,
		player:     deps.Player,
		media:      src,
		publisher:  deps.Publisher,
		dispatcher: deps.Dispatcher,
		sched:      deps.Scheduler,
		machine:    deps.Machine,
		store:      deps.Store,
		validator:  command.NewValidator(),
		logger:     logger.With("component", "playback", "player", cfg.PlayerID),
		engine:     engine,
		connection: connection.Disconnected.String(),
		done:       make(chan struct{}),
	}
	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start restores the saved session, publishes the initial state and begins
// watching the output and the connection.
func (s *serviceImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	var restored *store.State
	if s.store != nil {
		rctx, cancel := context.WithTimeout(ctx, restoreTimeout)
		st, err := s.store.GetState(rctx, s.cfg.PlayerID)
		cancel()
		switch {
		case err == nil:
			restored = &st
		case errors.Is(err, store.ErrNotFound):
			s.logger.Info("no saved session")
		default:
			s.logger.Warn("could not restore session", "err", errmsg.Format(errmsg.OpQueueRestore, err))
		}
	}

	if err := s.dispatcher.Do(ctx, func() { s.startOnLoop(restored) }); err != nil {
		return fmt.Errorf("starting playback service: %w", err)
	}

	if s.machine != nil {
		unobserve := s.machine.Subscribe(func(e connection.Event) {
			s.dispatcher.Submit(func() { s.onConnection(e.Status) })
		})
		s.mu.Lock()
		s.unobserve = unobserve
		s.mu.Unlock()
	}

	s.wg.Add(1)
	go s.watchFinished()
	s.sched.Schedule(timer.Heartbeat, s.cfg.Heartbeat, s.onHeartbeatTimer)
	return nil
}

func (s *serviceImpl) startOnLoop(restored *store.State) {
	s.mu.Lock()
	var track *TrackChange
	if restored != nil {
		s.engine.Restore(queue.State{
			Active:           restored.Active,
			Priority:         restored.Priority,
			NowPlaying:       restored.NowPlaying,
			NowPlayingSource: restored.NowPlayingSource,
		})
		s.player.SetVolume(restored.Volume)
		s.publisher.Seed(*restored)
		s.logger.Info("session restored",
			"active", len(restored.Active),
			"priority", len(restored.Priority),
			"volume", restored.Volume,
		)
		np, src := s.engine.NowPlaying()
		if s.cfg.Autoplay && restored.Status == store.StatusPlaying && np != nil {
			if err := s.playLocked(np); err == nil {
				if restored.Position > 0 {
					_ = s.player.Seek(restored.Position)
				}
				track = &TrackChange{Current: np, Source: src}
			}
		}
	}
	change := s.syncStateLocked()
	s.mu.Unlock()

	s.emit(change, track, true)
	s.publish(store.FieldAll, true)
}

// Execute issues p locally and runs it like a remote command.
func (s *serviceImpl) Execute(ctx context.Context, p command.Payload) (*command.Result, error) {
	c := command.New(uuid.NewString(), s.cfg.PlayerID, localIssuer, p, time.Now())
	if err := s.validator.Validate(c); err != nil {
		return nil, err
	}
	var (
		res     *command.Result
		execErr error
	)
	if err := s.dispatcher.Do(ctx, func() {
		res, execErr = s.dispatcher.Execute(ctx, c)
	}); err != nil {
		return nil, err
	}
	if execErr != nil {
		s.logger.Warn("local command failed", "type", string(c.Type), "err", execErr)
	}
	return res, execErr
}

// State returns the current playback state.
func (s *serviceImpl) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NowPlaying returns a copy of the now-playing video, or nil.
func (s *serviceImpl) NowPlaying() (*queue.Video, queue.Source) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.NowPlaying()
}

// Queue returns a copy of both queues and the now-playing slot.
func (s *serviceImpl) Queue() queue.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Snapshot()
}

// Position returns the current playback position.
func (s *serviceImpl) Position() time.Duration {
	return s.player.Position()
}

// Volume returns the output volume in percent.
func (s *serviceImpl) Volume() int {
	return s.player.Volume()
}

// Player returns the output driven by the service.
func (s *serviceImpl) Player() player.Interface {
	return s.player
}

// Subscribe creates a new event subscription.
func (s *serviceImpl) Subscribe() *Subscription {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub := newSubscription()
	if s.closed {
		sub.close()
		return sub
	}
	s.subs = append(s.subs, sub)
	return sub
}

// Close stops the heartbeat and the watchers and ends every subscription.
// The output itself is left to its owner.
func (s *serviceImpl) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	unobserve := s.unobserve
	s.mu.Unlock()

	s.sched.Cancel(timer.Heartbeat)
	if unobserve != nil {
		unobserve()
	}
	s.wg.Wait()

	s.subsMu.Lock()
	for _, sub := range s.subs {
		sub.close()
	}
	s.subs = nil
	s.subsMu.Unlock()
	return nil
}

func (s *serviceImpl) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// watchFinished turns output end-of-track signals into rotations on the
// dispatch goroutine.
func (s *serviceImpl) watchFinished() {
	defer s.wg.Done()
	for {
		select {
		case <-s.player.FinishedChan():
			s.dispatcher.Submit(s.onTrackFinished)
		case <-s.done:
			return
		}
	}
}

func (s *serviceImpl) onTrackFinished() {
	if s.isClosed() {
		return
	}
	s.mu.Lock()
	if s.player.State() != player.Stopped {
		// A newer track started before this signal was handled.
		s.mu.Unlock()
		return
	}
	track, err := s.rotateLocked()
	change := s.syncStateLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("could not start next video", "err", err)
	}
	s.emit(change, track, true)
	s.publish(store.FieldQueue|store.FieldStatus|store.FieldPosition, true)
}

func (s *serviceImpl) onHeartbeatTimer() {
	if !s.dispatcher.Submit(s.heartbeat) {
		return
	}
	if !s.isClosed() {
		s.sched.Schedule(timer.Heartbeat, s.cfg.Heartbeat, s.onHeartbeatTimer)
	}
}

// heartbeat refreshes presence and position for remote consoles.
func (s *serviceImpl) heartbeat() {
	if s.isClosed() {
		return
	}
	s.mu.Lock()
	change := s.syncStateLocked()
	s.mu.Unlock()
	s.emit(change, nil, false)
	s.publish(store.FieldLastSeen|store.FieldPosition|store.FieldStatus|store.FieldConnection, false)
}

func (s *serviceImpl) onConnection(st connection.Status) {
	s.mu.Lock()
	s.connection = st.String()
	s.mu.Unlock()
	s.publish(store.FieldConnection|store.FieldLastSeen, false)
}

// rotateLocked advances the engine and starts the new now-playing video.
func (s *serviceImpl) rotateLocked() (*TrackChange, error) {
	prev, _ := s.engine.NowPlaying()
	next, src := s.engine.Rotate()
	change := &TrackChange{Previous: prev, Current: next, Source: src}
	if next == nil {
		s.player.Stop()
		return change, nil
	}
	return change, s.playLocked(next)
}

// startLocked begins playback from the queue head without recycling.
func (s *serviceImpl) startLocked() (*TrackChange, error) {
	prev, _ := s.engine.NowPlaying()
	next, src := s.engine.StartPlayback()
	if next == nil {
		return nil, ErrQueueEmpty
	}
	return &TrackChange{Previous: prev, Current: next, Source: src}, s.playLocked(next)
}

func (s *serviceImpl) playLocked(v *queue.Video) error {
	if err := s.player.Play(v.Locator, v.Duration); err != nil {
		s.sendError(ErrorEvent{Operation: "play", Locator: v.Locator, Err: err})
		return err
	}
	s.logger.Info("now playing", "title", v.Title, "artist", v.Artist, "locator", v.Locator)
	return nil
}

// syncStateLocked mirrors the output state and reports a transition.
func (s *serviceImpl) syncStateLocked() *StateChange {
	cur := stateFromPlayer(s.player.State())
	if cur == s.state {
		return nil
	}
	change := &StateChange{Previous: s.state, Current: cur}
	s.state = cur
	return change
}

// emit fans events out to subscribers. Call without s.mu held.
func (s *serviceImpl) emit(state *StateChange, track *TrackChange, queueChanged bool) {
	var q queue.State
	if queueChanged {
		q = s.Queue()
	}
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, sub := range s.subs {
		if state != nil {
			offer(sub, sub.states, *state)
		}
		if track != nil {
			offer(sub, sub.tracks, *track)
		}
		if queueChanged {
			offer(sub, sub.queues, QueueChange{Queue: q})
		}
	}
}

// fanout offers v to every subscriber on the channel chosen by pick.
func fanout[T any](s *serviceImpl, pick func(*Subscription) chan T, v T) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, sub := range s.subs {
		offer(sub, pick(sub), v)
	}
}

func (s *serviceImpl) sendError(e ErrorEvent) {
	fanout(s, func(sub *Subscription) chan ErrorEvent { return sub.errs }, e)
}

func (s *serviceImpl) sendPosition(pos time.Duration) {
	fanout(s, func(sub *Subscription) chan PositionChange { return sub.positions }, PositionChange{Position: pos})
}

func (s *serviceImpl) sendVolume(v int) {
	fanout(s, func(sub *Subscription) chan VolumeChange { return sub.volumes }, VolumeChange{Volume: v})
}

func (s *serviceImpl) sendCommandDone(c CommandDone) {
	fanout(s, func(sub *Subscription) chan CommandDone { return sub.commands }, c)
}

// publish hands the current value of fields to the state publisher.
func (s *serviceImpl) publish(fields store.Field, immediate bool) {
	s.mu.RLock()
	q := s.engine.Snapshot()
	st := store.State{
		Status:           s.state.Status(),
		NowPlaying:       q.NowPlaying,
		NowPlayingSource: q.NowPlayingSource,
		Active:           q.Active,
		Priority:         q.Priority,
		Connection:       s.connection,
	}
	s.mu.RUnlock()
	st.Volume = s.player.Volume()
	st.Position = s.player.Position().Truncate(time.Second)
	st.LastSeen = time.Now().UTC().Truncate(time.Millisecond)
	s.publisher.Publish(store.Patch{Fields: fields, State: st}, immediate)
}
