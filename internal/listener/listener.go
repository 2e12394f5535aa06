// Package listener feeds remote commands into the player through two paths:
// a push subscription and an adaptive poll of the store. Both paths go
// through the connection gate and the dedup ledger before dispatch, so a
// command seen twice still runs once.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/connection"
	"github.com/llehouerou/jukebox/internal/dedup"
	"github.com/llehouerou/jukebox/internal/dispatch"
	"github.com/llehouerou/jukebox/internal/errlog"
	"github.com/llehouerou/jukebox/internal/errmsg"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/store"
	"github.com/llehouerou/jukebox/internal/timer"
)

const writeBackTimeout = 10 * time.Second

// Config holds the listener parameters.
type Config struct {
	PlayerID string

	PollInterval            time.Duration // base poll interval
	PollMaxInterval         time.Duration
	EmptyPollsBeforeBackoff int
	CommandExpiry           time.Duration // older commands are stale
}

// DefaultConfig returns the default polling parameters for playerID.
func DefaultConfig(playerID string) Config {
	return Config{
		PlayerID:                playerID,
		PollInterval:            2 * time.Second,
		PollMaxInterval:         30 * time.Second,
		EmptyPollsBeforeBackoff: 5,
		CommandExpiry:           5 * time.Minute,
	}
}

// Deps are the collaborators of a Listener.
type Deps struct {
	Store      store.Store
	Channel    push.Channel
	Machine    *connection.Machine
	Dispatcher *dispatch.Dispatcher
	Ledger     *dedup.Ledger
	Scheduler  *timer.Scheduler
	Validator  *command.Validator
	Errors     *errlog.Limiter
	Logger     *slog.Logger
}

// Listener owns the command intake of one player.
type Listener struct {
	cfg        Config
	store      store.Store
	channel    push.Channel
	machine    *connection.Machine
	dispatcher *dispatch.Dispatcher
	ledger     *dedup.Ledger // dispatch goroutine only
	sched      *timer.Scheduler
	validator  *command.Validator
	errs       *errlog.Limiter
	logger     *slog.Logger
	guard      *store.SchemaGuard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	started       bool
	stopping      bool
	handle        push.Handle
	subGen        uint64
	pushHealthy   bool
	interval      time.Duration
	emptyPolls    int
	lastPollOK    bool
	unobserve     func()
	pollsDisabled bool
}

// New creates a listener. Call Start to begin receiving.
func New(cfg Config, deps Deps) *Listener {
	def := DefaultConfig(cfg.PlayerID)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = max(def.PollMaxInterval, cfg.PollInterval)
	}
	if cfg.EmptyPollsBeforeBackoff <= 0 {
		cfg.EmptyPollsBeforeBackoff = def.EmptyPollsBeforeBackoff
	}
	if cfg.CommandExpiry <= 0 {
		cfg.CommandExpiry = def.CommandExpiry
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "listener", "player", cfg.PlayerID)
	errs := deps.Errors
	if errs == nil {
		errs = errlog.New(logger, 0, nil)
	}
	validator := deps.Validator
	if validator == nil {
		validator = command.NewValidator()
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = dedup.New(0)
	}
	return &Listener{
		cfg:        cfg,
		store:      deps.Store,
		channel:    deps.Channel,
		machine:    deps.Machine,
		dispatcher: deps.Dispatcher,
		ledger:     ledger,
		sched:      deps.Scheduler,
		validator:  validator,
		errs:       errs,
		logger:     logger,
		guard:      store.NewSchemaGuard(deps.Store, logger),
		interval:   cfg.PollInterval,
	}
}

// Start subscribes to the player's command topic and arms polling.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	l.machine.SetReconnect(l.subscribe)
	unobserve := l.machine.Subscribe(l.onConnection)
	l.mu.Lock()
	l.unobserve = unobserve
	l.mu.Unlock()

	l.subscribe()
}

// Stop unsubscribes, cancels the poll timer and waits for pending write-backs.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.started || l.stopping {
		l.mu.Unlock()
		return
	}
	l.stopping = true
	h := l.handle
	l.handle = nil
	unobserve := l.unobserve
	l.mu.Unlock()

	l.sched.Cancel(timer.Poll)
	if unobserve != nil {
		unobserve()
	}
	if h != nil {
		if err := l.channel.Unsubscribe(h); err != nil {
			l.logger.Warn("unsubscribe failed", "err", err)
		}
	}
	l.machine.SetReconnect(nil)
	l.machine.Disconnect()
	l.cancel()
	l.wg.Wait()
}

// Interval returns the current poll interval.
func (l *Listener) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// PushHealthy reports whether the push subscription is live.
func (l *Listener) PushHealthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushHealthy
}

func (l *Listener) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

// onConnection runs synchronously inside machine transitions; it only hands
// work off to other goroutines.
func (l *Listener) onConnection(e connection.Event) {
	if e.Status != connection.Connected || e.Previous == connection.Connected {
		return
	}
	if l.isStopping() {
		return
	}
	for _, c := range l.machine.Drain() {
		l.dispatcher.Submit(func() { l.process(c, viaReplay) })
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.poll(false)
	}()
}

// Delivery paths, recorded in logs.
const (
	viaPush   = "push"
	viaPoll   = "poll"
	viaReplay = "replay"
)

// deliver hands a command to the dispatch goroutine.
func (l *Listener) deliver(c command.Command, via string) {
	if !l.dispatcher.Submit(func() { l.process(c, via) }) {
		l.logger.Debug("dispatcher closed, dropping command", "id", c.ID)
	}
}

// process runs on the dispatch goroutine. It reports whether c was new:
// executed now or newly buffered.
func (l *Listener) process(c command.Command, via string) bool {
	log := l.logger.With("id", c.ID, "type", string(c.Type), "via", via)
	if c.TargetPlayerID != l.cfg.PlayerID {
		log.Debug("dropping command for another player", "target", c.TargetPlayerID)
		return false
	}
	// Age is judged on arrival. A buffered command was fresh when it was
	// queued and stays eligible however long the outage lasts.
	if via != viaReplay && c.Age(time.Now()) > l.cfg.CommandExpiry {
		log.Info("dropping stale command", "issued", humanize.Time(c.IssuedAt))
		return false
	}
	if !l.machine.IsConnected() {
		if l.ledger.IsProcessed(c.ID) || l.ledger.IsProcessing(c.ID) {
			log.Debug("duplicate command ignored")
			return false
		}
		queued, evicted := l.machine.Enqueue(c)
		if evicted != nil {
			l.evict(*evicted)
		}
		if !queued {
			return false
		}
		log.Debug("not connected, command buffered", "queued", l.machine.Queued())
		return true
	}
	if !l.ledger.Claim(c.ID) {
		log.Debug("duplicate command ignored")
		return false
	}

	status := command.StatusExecuted
	var result *command.Result
	if err := l.validator.Validate(c); err != nil {
		status = command.StatusFailed
		result = &command.Result{Message: errmsg.Format(errmsg.OpCommandValidate, err)}
	} else {
		res, err := l.dispatcher.Execute(l.ctx, c)
		result = res
		if err != nil {
			status = command.StatusFailed
			result = &command.Result{Message: errmsg.Format(errmsg.OpFor(c.Type), err)}
		}
	}
	l.ledger.Complete(c.ID, status)

	if status == command.StatusFailed {
		log.Warn("command failed", "reason", result.Message)
	} else {
		log.Info("command executed")
	}
	l.writeBack(c.ID, status, result)
	return true
}

// evict gives up on a command pushed out of the offline buffer. Marking it
// processed makes later polls expire its row instead of buffering it again.
func (l *Listener) evict(c command.Command) {
	l.ledger.Complete(c.ID, command.StatusFailed)
	l.writeBack(c.ID, command.StatusFailed, &command.Result{
		Message: errmsg.Format(errmsg.OpFor(c.Type), connection.ErrBufferFull),
	})
}

// writeBack records the terminal status and broadcasts the ack. It never
// retries execution: the ledger already holds the ID.
func (l *Listener) writeBack(id string, status command.Status, result *command.Result) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), writeBackTimeout)
		defer cancel()

		err := l.store.UpdateCommandStatus(ctx, id, status, result)
		if err != nil && l.guard.Check(ctx, err) {
			err = l.store.UpdateCommandStatus(ctx, id, status, result)
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			l.errs.Warn("write-back", "command status write-back failed", err, "id", id)
		}

		ack, err := encodeAck(command.Ack{
			ID:       id,
			PlayerID: l.cfg.PlayerID,
			Status:   status,
			Result:   result,
			At:       time.Now(),
		})
		if err != nil {
			return
		}
		if err := l.channel.Publish(ctx, push.AckTopic(l.cfg.PlayerID), ack); err != nil {
			l.errs.Warn("ack", "ack broadcast failed", err, "id", id)
		}
	}()
}
