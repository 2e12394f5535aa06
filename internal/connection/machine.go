// Package connection tracks the health of the push channel and schedules
// reconnect attempts with exponential backoff.
//
// State diagram:
//
//	Disconnected ──Connected()──> Connected
//	Connected ──Fail()──> Reconnecting ──Connected()──> Connected
//	Reconnecting ──Fail() [attempts exhausted]──> Disconnected (permanent until Reset)
//	Disconnected ──Reset()──> Reconnecting (first attempt immediately)
package connection

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/timer"
)

// ErrReconnectExhausted is carried by the event emitted when the machine
// gives up reconnecting.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrManualReset is carried by the event emitted when Reset restarts the
// reconnect sequence.
var ErrManualReset = errors.New("reconnect sequence reset")

// Status is the connection status of the push channel.
type Status int

const (
	Disconnected Status = iota
	Connected
	Reconnecting
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds the backoff and buffering parameters.
type Config struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	QueueCapacity int
}

// DefaultConfig returns the default backoff parameters.
func DefaultConfig() Config {
	return Config{
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   10,
		QueueCapacity: 100,
	}
}

// Event describes a transition.
type Event struct {
	Status   Status
	Previous Status
	Attempt  int           // reconnect attempt number, 0 when connected
	Delay    time.Duration // delay before the scheduled attempt
	Err      error         // cause of the failure, or ErrReconnectExhausted
}

// Machine owns the connection status. Other components only read it.
// It is safe for concurrent use. Observers run synchronously on the goroutine
// that caused the transition and must not call back into Connected, Fail,
// Disconnect or Reset.
type Machine struct {
	cfg    Config
	sched  *timer.Scheduler
	logger *slog.Logger

	notifyMu sync.Mutex // serializes notifications

	mu        sync.Mutex
	status    Status
	attempt   int
	exhausted bool
	reconnect func()
	observers map[int]func(Event)
	nextObs   int
	queue     []command.Command
}

// New creates a machine in the Disconnected state.
func New(cfg Config, sched *timer.Scheduler, logger *slog.Logger) *Machine {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		cfg:       cfg,
		sched:     sched,
		logger:    logger.With("component", "connection"),
		observers: make(map[int]func(Event)),
	}
}

// Backoff returns min(base * 2^attempt, max).
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for range attempt {
		if d >= maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return min(d, maxDelay)
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsConnected reports whether the status is Connected.
func (m *Machine) IsConnected() bool {
	return m.Status() == Connected
}

// Exhausted reports whether reconnection was given up.
func (m *Machine) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

// SetReconnect registers the function invoked for each reconnect attempt.
// It runs on the scheduler's timer goroutine.
func (m *Machine) SetReconnect(fn func()) {
	m.mu.Lock()
	m.reconnect = fn
	m.mu.Unlock()
}

// Connected records a healthy subscription. It resets the attempt counter
// and cancels any pending reconnect.
func (m *Machine) Connected() {
	m.mu.Lock()
	prev := m.status
	m.status = Connected
	m.attempt = 0
	m.exhausted = false
	m.mu.Unlock()
	m.sched.Cancel(timer.Reconnect)

	if prev != Connected {
		m.logger.Info("connected", "previous", prev.String())
	}
	m.notify(Event{Status: Connected, Previous: prev})
}

// Fail records a subscription error or timeout and schedules the next
// reconnect attempt. Once the attempts are used up the machine settles in
// Disconnected and stays there until Reset.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	if m.exhausted {
		m.mu.Unlock()
		return
	}
	prev := m.status
	if m.attempt >= m.cfg.MaxAttempts {
		m.status = Disconnected
		m.exhausted = true
		attempt := m.attempt
		m.mu.Unlock()
		m.sched.Cancel(timer.Reconnect)

		m.logger.Error("giving up reconnecting", "attempts", attempt, "err", err)
		m.notify(Event{Status: Disconnected, Previous: prev, Attempt: attempt, Err: ErrReconnectExhausted})
		return
	}
	delay := Backoff(m.cfg.BaseDelay, m.cfg.MaxDelay, m.attempt)
	m.attempt++
	attempt := m.attempt
	m.status = Reconnecting
	m.mu.Unlock()

	m.sched.Schedule(timer.Reconnect, delay, m.fireReconnect)
	m.logger.Warn("connection lost, reconnecting",
		"attempt", attempt,
		"delay", delay,
		"err", err,
	)
	m.notify(Event{Status: Reconnecting, Previous: prev, Attempt: attempt, Delay: delay, Err: err})
}

func (m *Machine) fireReconnect() {
	m.mu.Lock()
	fn := m.reconnect
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Disconnect records an intentional shutdown of the subscription.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	prev := m.status
	m.status = Disconnected
	m.mu.Unlock()
	m.sched.Cancel(timer.Reconnect)
	if prev != Disconnected {
		m.notify(Event{Status: Disconnected, Previous: prev})
	}
}

// Reset clears exhaustion and starts a fresh reconnect sequence whose first
// attempt runs right away. It does nothing while connected.
func (m *Machine) Reset() {
	m.mu.Lock()
	if m.status == Connected {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.exhausted = false
	m.attempt = 1
	m.status = Reconnecting
	m.mu.Unlock()

	m.sched.Schedule(timer.Reconnect, 0, m.fireReconnect)
	m.logger.Info("reconnect sequence reset", "previous", prev.String())
	m.notify(Event{Status: Reconnecting, Previous: prev, Attempt: 1, Err: ErrManualReset})
}

// Subscribe registers an observer. It is called immediately with the current
// status, then on every transition. The returned func removes it.
func (m *Machine) Subscribe(fn func(Event)) (cancel func()) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	current := Event{Status: m.status, Previous: m.status, Attempt: m.attempt}
	if m.exhausted {
		current.Err = ErrReconnectExhausted
	}
	m.mu.Unlock()

	fn(current)
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Machine) notify(e Event) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.observers))
	for id := range m.nextObs {
		if fn, ok := m.observers[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
