// Package redis implements push.Channel on Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llehouerou/jukebox/internal/push"
)

const (
	// DefaultSubscribeTimeout bounds the wait for a subscription confirmation.
	DefaultSubscribeTimeout = 10 * time.Second
	// DefaultHealthCheckInterval is how long a subscription may stay quiet
	// before it is pinged. A ping left unanswered for another interval ends
	// the subscription with push.StatusTimedOut.
	DefaultHealthCheckInterval = 15 * time.Second
)

var errNoConfirmation = errors.New("no subscription confirmation")

// Channel is a push.Channel on a Redis client.
type Channel struct {
	rc               *redis.Client
	logger           *slog.Logger
	subscribeTimeout time.Duration
	healthCheck      time.Duration

	mu     sync.Mutex
	subs   map[*handle]struct{}
	closed bool
}

// Verify Channel implements push.Channel at compile time.
var _ push.Channel = (*Channel)(nil)

type handle struct {
	topic    string
	ps       *redis.PubSub
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopping bool
	done     chan struct{}
}

func (h *handle) Topic() string { return h.topic }

func (h *handle) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// New creates a channel. A subscribeTimeout <= 0 uses DefaultSubscribeTimeout.
func New(rc *redis.Client, subscribeTimeout time.Duration, logger *slog.Logger) *Channel {
	if subscribeTimeout <= 0 {
		subscribeTimeout = DefaultSubscribeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		rc:               rc,
		logger:           logger.With("component", "push"),
		subscribeTimeout: subscribeTimeout,
		healthCheck:      DefaultHealthCheckInterval,
		subs:             make(map[*handle]struct{}),
	}
}

// Subscribe waits for the subscription confirmation, then delivers messages
// from a dedicated goroutine until the subscription ends.
func (c *Channel) Subscribe(ctx context.Context, topic string, onMessage func([]byte), onStatus func(push.Status, error)) (push.Handle, error) {
	if onStatus == nil {
		onStatus = func(push.Status, error) {}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, push.ErrClosed
	}
	c.mu.Unlock()

	ps, err := c.confirm(ctx, topic)
	if err != nil {
		if isTimeout(err) {
			onStatus(push.StatusTimedOut, err)
		} else {
			onStatus(push.StatusError, err)
		}
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h := &handle{topic: topic, ps: ps, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.subs[h] = struct{}{}
	c.mu.Unlock()

	onStatus(push.StatusSubscribed, nil)
	go c.receive(loopCtx, h, onMessage, onStatus)
	return h, nil
}

type confirmation struct {
	ps  *redis.PubSub
	err error
}

// confirm subscribes to topic and waits at most subscribeTimeout for the
// server to acknowledge. The client's own read timeouts apply while the
// connection handshakes, so the wait runs aside and is abandoned on expiry.
func (c *Channel) confirm(ctx context.Context, topic string) (*redis.PubSub, error) {
	subCtx, cancel := context.WithTimeout(ctx, c.subscribeTimeout)
	defer cancel()

	result := make(chan confirmation, 1)
	go func() {
		ps := c.rc.Subscribe(subCtx, topic)
		if _, err := ps.ReceiveTimeout(subCtx, c.subscribeTimeout); err != nil {
			ps.Close()
			result <- confirmation{err: err}
			return
		}
		result <- confirmation{ps: ps}
	}()

	select {
	case r := <-result:
		return r.ps, r.err
	case <-subCtx.Done():
		go func() {
			if r := <-result; r.ps != nil {
				r.ps.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w within %s: %w", errNoConfirmation, c.subscribeTimeout, context.DeadlineExceeded)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Channel) receive(ctx context.Context, h *handle, onMessage func([]byte), onStatus func(push.Status, error)) {
	defer close(h.done)
	defer func() {
		c.mu.Lock()
		delete(c.subs, h)
		c.mu.Unlock()
	}()
	pinged := false
	for {
		msg, err := h.ps.ReceiveTimeout(ctx, c.healthCheck)
		if err != nil && isTimeout(err) && !h.isStopping() {
			if pinged {
				err = fmt.Errorf("no reply to ping within %s: %w", c.healthCheck, err)
				c.logger.Warn("subscription unresponsive", "topic", h.topic, "err", err)
				onStatus(push.StatusTimedOut, err)
				h.ps.Close()
				return
			}
			if err = h.ps.Ping(ctx); err == nil {
				pinged = true
				continue
			}
		}
		if err != nil {
			if h.isStopping() || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) {
				onStatus(push.StatusClosed, nil)
			} else {
				c.logger.Warn("subscription lost", "topic", h.topic, "err", err)
				onStatus(push.StatusError, err)
			}
			h.ps.Close()
			return
		}
		pinged = false
		if m, ok := msg.(*redis.Message); ok {
			onMessage([]byte(m.Payload))
		}
	}
}

func (c *Channel) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.rc.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe ends h and waits for its delivery goroutine to exit.
func (c *Channel) Unsubscribe(ph push.Handle) error {
	h, ok := ph.(*handle)
	if !ok || h == nil {
		return nil
	}
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()
	h.cancel()
	err := h.ps.Close()
	<-h.done
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("failed to unsubscribe from %s: %w", h.topic, err)
	}
	return nil
}

// Close ends every subscription. The client itself is owned by the caller.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	handles := make([]*handle, 0, len(c.subs))
	for h := range c.subs {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		_ = c.Unsubscribe(h)
	}
	return nil
}
