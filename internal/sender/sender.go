// Package sender issues commands to players from the remote side and
// optionally waits for the player to report the outcome.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/store"
)

// DefaultPollInterval is the row polling period used when acks are unavailable.
const DefaultPollInterval = 500 * time.Millisecond

// ErrClosed is returned by Send once the sender is closed.
var ErrClosed = errors.New("sender closed")

// Outcome is how far a sent command is known to have progressed.
type Outcome int

const (
	OutcomeSent     Outcome = iota // stored, not waited for
	OutcomeExecuted                // player reported success
	OutcomeFailed                  // player reported failure
	OutcomeNoAck                   // no terminal status before the wait ended
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeExecuted:
		return "executed"
	case OutcomeFailed:
		return "failed"
	case OutcomeNoAck:
		return "no_ack"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Options tune a single Send.
type Options struct {
	Wait     time.Duration // zero returns right after storing
	IssuedBy string        // overrides Config.IssuedBy
}

// Result describes a sent command.
type Result struct {
	CommandID string  `json:"command_id"`
	Outcome   Outcome `json:"outcome"`
	Message   string  `json:"message,omitempty"`
	Broadcast error   `json:"-"` // push publish error; the row is still stored
}

// Config holds the sender parameters.
type Config struct {
	IssuedBy     string
	PollInterval time.Duration // row polling when acks are unavailable
}

// Sender issues commands to players and tracks their completion.
type Sender struct {
	cfg       Config
	store     store.Store
	channel   push.Channel
	validator *command.Validator
	logger    *slog.Logger
	newID     func() string

	mu       sync.Mutex
	outboxes map[string]*outbox
	closed   bool
}

// New creates a sender writing to st and notifying players over ch.
func New(cfg Config, st store.Store, ch push.Channel, logger *slog.Logger) *Sender {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		cfg:       cfg,
		store:     st,
		channel:   ch,
		validator: command.NewValidator(),
		logger:    logger.With("component", "sender"),
		newID:     uuid.NewString,
		outboxes:  make(map[string]*outbox),
	}
}

// Send stores a command for playerID and broadcasts it on the player's
// command topic. A failed broadcast is reported in Result.Broadcast but is
// not an error: the player's poll path still finds the stored row.
func (s *Sender) Send(ctx context.Context, playerID string, p command.Payload, opts Options) (Result, error) {
	issuedBy := opts.IssuedBy
	if issuedBy == "" {
		issuedBy = s.cfg.IssuedBy
	}
	c := command.New(s.newID(), playerID, issuedBy, p, time.Now())
	if err := s.validator.Validate(c); err != nil {
		return Result{}, err
	}
	payload, err := command.Encode(c)
	if err != nil {
		return Result{}, fmt.Errorf("encoding command: %w", err)
	}

	ob, err := s.outbox(ctx, playerID)
	if err != nil {
		return Result{}, err
	}
	// Register before publishing so a fast ack is not missed.
	var acks chan command.Ack
	if opts.Wait > 0 {
		acks = ob.register(c.ID)
		defer ob.unregister(c.ID)
	}

	if err := s.store.InsertCommand(ctx, c); err != nil {
		return Result{}, fmt.Errorf("storing command: %w", err)
	}
	res := Result{CommandID: c.ID, Outcome: OutcomeSent}
	if err := s.channel.Publish(ctx, push.CommandTopic(playerID), payload); err != nil {
		res.Broadcast = err
		s.logger.Warn("command broadcast failed, relying on poll", "id", c.ID, "player", playerID, "err", err)
	}
	s.logger.Debug("command sent", "id", c.ID, "type", string(c.Type), "player", playerID)

	if opts.Wait <= 0 {
		return res, nil
	}
	return s.wait(ctx, ob, res, acks, opts.Wait)
}

// wait resolves on the command's ack, or on its stored status when the ack
// subscription is down.
func (s *Sender) wait(ctx context.Context, ob *outbox, res Result, acks <-chan command.Ack, d time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case a := <-acks:
			return resolve(res, a.Status, a.Result), nil
		case <-ticker.C:
			if ob.healthy() {
				continue
			}
			if done, out := s.check(ctx, res); done {
				return out, nil
			}
		case <-ctx.Done():
			// The ack may have raced the deadline; the row is authoritative.
			checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PollInterval)
			done, out := s.check(checkCtx, res)
			cancel()
			if done {
				return out, nil
			}
			res.Outcome = OutcomeNoAck
			return res, nil
		}
	}
}

func (s *Sender) check(ctx context.Context, res Result) (bool, Result) {
	c, err := s.store.GetCommand(ctx, res.CommandID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("command status poll failed", "id", res.CommandID, "err", err)
		}
		return false, res
	}
	if !c.Status.Terminal() {
		return false, res
	}
	return true, resolve(res, c.Status, c.Result)
}

func resolve(res Result, st command.Status, r *command.Result) Result {
	res.Outcome = OutcomeExecuted
	if st == command.StatusFailed {
		res.Outcome = OutcomeFailed
	}
	if r != nil {
		res.Message = r.Message
	}
	return res
}

// Close drops every cached ack subscription.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	boxes := s.outboxes
	s.outboxes = nil
	s.mu.Unlock()

	for _, ob := range boxes {
		ob.close(s.channel)
	}
	return nil
}

// outbox returns the long-lived per-player handle, (re)subscribing to the
// player's acks when needed. A subscription failure only disables ack
// delivery; callers fall back to polling.
func (s *Sender) outbox(ctx context.Context, playerID string) (*outbox, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ob, ok := s.outboxes[playerID]
	if !ok {
		ob = &outbox{playerID: playerID, waiters: make(map[string]chan command.Ack)}
		s.outboxes[playerID] = ob
	}
	s.mu.Unlock()

	ob.ensure(ctx, s.channel, s.logger)
	return ob, nil
}

type outbox struct {
	playerID string

	subMu sync.Mutex // serializes subscribe attempts

	mu      sync.Mutex
	handle  push.Handle
	live    bool
	waiters map[string]chan command.Ack
}

func (o *outbox) ensure(ctx context.Context, ch push.Channel, logger *slog.Logger) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.healthy() {
		return
	}
	o.mu.Lock()
	old := o.handle
	o.handle = nil
	o.mu.Unlock()
	if old != nil {
		_ = ch.Unsubscribe(old)
	}

	h, err := ch.Subscribe(ctx, push.AckTopic(o.playerID), o.onAck, func(s push.Status, err error) {
		o.mu.Lock()
		o.live = s.Healthy()
		o.mu.Unlock()
		if !s.Healthy() && s != push.StatusClosed {
			logger.Warn("ack subscription lost", "player", o.playerID, "status", s.String(), "err", err)
		}
	})
	if err != nil {
		logger.Warn("ack subscription failed, will poll for results", "player", o.playerID, "err", err)
		return
	}
	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()
}

func (o *outbox) healthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live && o.handle != nil
}

func (o *outbox) onAck(b []byte) {
	var a command.Ack
	if err := json.Unmarshal(b, &a); err != nil || !a.Status.Terminal() {
		return
	}
	o.mu.Lock()
	w, ok := o.waiters[a.ID]
	o.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w <- a:
	default:
	}
}

func (o *outbox) register(id string) chan command.Ack {
	w := make(chan command.Ack, 1)
	o.mu.Lock()
	o.waiters[id] = w
	o.mu.Unlock()
	return w
}

func (o *outbox) unregister(id string) {
	o.mu.Lock()
	delete(o.waiters, id)
	o.mu.Unlock()
}

func (o *outbox) close(ch push.Channel) {
	o.mu.Lock()
	h := o.handle
	o.handle = nil
	o.live = false
	o.mu.Unlock()
	if h != nil {
		_ = ch.Unsubscribe(h)
	}
}
