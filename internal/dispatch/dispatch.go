// Package dispatch runs all player-side state mutations on one goroutine and
// routes commands to the single handler registered for their type.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/llehouerou/jukebox/internal/command"
)

var (
	// ErrDuplicateHandler is returned when a second handler is registered for a type.
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrNoHandler is returned when no handler is registered for a command type.
	ErrNoHandler = errors.New("no handler registered")
	// ErrClosed is returned when submitting to a closed dispatcher.
	ErrClosed = errors.New("dispatcher closed")
)

const (
	taskBufferSize = 256
	// DefaultTimeout bounds a single handler call.
	DefaultTimeout = 10 * time.Second
)

// Handler executes one command. A returned error marks the command failed.
type Handler func(ctx context.Context, c command.Command) (*command.Result, error)

// Dispatcher owns the dispatch goroutine and the handler registry.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration

	tasks     chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	handlers map[command.Type]Handler
}

// New starts a dispatcher. A timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:   logger.With("component", "dispatch"),
		timeout:  timeout,
		tasks:    make(chan func(), taskBufferSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		handlers: make(map[command.Type]Handler),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	for {
		select {
		case fn := <-d.tasks:
			d.run(fn)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Submit queues fn to run on the dispatch goroutine.
// Returns false if the dispatcher is closed.
func (d *Dispatcher) Submit(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.tasks <- fn:
		return true
	case <-d.done:
		return false
	}
}

// Do runs fn on the dispatch goroutine and waits for it to finish.
// It must not be called from the dispatch goroutine itself.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !d.Submit(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrClosed
	}
}

// Handle registers h for commands of type t. The first registration wins;
// later ones return ErrDuplicateHandler.
func (d *Dispatcher) Handle(t command.Type, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}
	d.handlers[t] = h
	return nil
}

// Handles reports whether a handler is registered for t.
func (d *Dispatcher) Handles(t command.Type) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[t]
	return ok
}

// Execute runs the handler for c with the per-command timeout.
// Panics are recovered and returned as errors. Callers run it on the
// dispatch goroutine.
func (d *Dispatcher) Execute(ctx context.Context, c command.Command) (res *command.Result, err error) {
	d.mu.RLock()
	h, ok := d.handlers[c.Type]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, c.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"id", c.ID, "type", string(c.Type), "panic", r, "stack", string(debug.Stack()))
			res = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, c)
}

// Close stops the dispatch goroutine. Queued tasks that have not started
// are discarded.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
