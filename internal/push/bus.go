package push

import (
	"context"
	"sync"
)

// Bus is an in-process Channel. Messages are delivered synchronously on the
// publisher's goroutine, which keeps tests deterministic.
type Bus struct {
	mu           sync.Mutex
	subs         map[string]map[*busHandle]struct{}
	closed       bool
	subscribeErr error
	publishErr   error
	published    map[string]int
}

type busHandle struct {
	topic     string
	onMessage func([]byte)
	onStatus  func(Status, error)
}

func (h *busHandle) Topic() string { return h.topic }

// Verify Bus implements Channel at compile time.
var _ Channel = (*Bus)(nil)

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:      make(map[string]map[*busHandle]struct{}),
		published: make(map[string]int),
	}
}

func (b *Bus) Subscribe(_ context.Context, topic string, onMessage func([]byte), onStatus func(Status, error)) (Handle, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if err := b.subscribeErr; err != nil {
		b.mu.Unlock()
		if onStatus != nil {
			onStatus(StatusError, err)
		}
		return nil, err
	}
	h := &busHandle{topic: topic, onMessage: onMessage, onStatus: onStatus}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*busHandle]struct{})
	}
	b.subs[topic][h] = struct{}{}
	b.mu.Unlock()

	if onStatus != nil {
		onStatus(StatusSubscribed, nil)
	}
	return h, nil
}

func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if err := b.publishErr; err != nil {
		b.mu.Unlock()
		return err
	}
	b.published[topic]++
	handles := make([]*busHandle, 0, len(b.subs[topic]))
	for h := range b.subs[topic] {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	for _, h := range handles {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		h.onMessage(msg)
	}
	return nil
}

func (b *Bus) Unsubscribe(h Handle) error {
	bh, ok := h.(*busHandle)
	if !ok || bh == nil {
		return nil
	}
	if b.remove(bh) && bh.onStatus != nil {
		bh.onStatus(StatusClosed, nil)
	}
	return nil
}

func (b *Bus) remove(h *busHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[h.topic]
	if _, ok := set[h]; !ok {
		return false
	}
	delete(set, h)
	return true
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var handles []*busHandle
	for _, set := range b.subs {
		for h := range set {
			handles = append(handles, h)
		}
	}
	b.subs = make(map[string]map[*busHandle]struct{})
	b.mu.Unlock()

	for _, h := range handles {
		if h.onStatus != nil {
			h.onStatus(StatusClosed, nil)
		}
	}
	return nil
}

// Fault injection

// Fail ends every subscription on topic with status s and err.
func (b *Bus) Fail(topic string, s Status, err error) {
	b.mu.Lock()
	set := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()
	for h := range set {
		if h.onStatus != nil {
			h.onStatus(s, err)
		}
	}
}

// SetSubscribeError makes later Subscribe calls fail with err (nil clears).
func (b *Bus) SetSubscribeError(err error) {
	b.mu.Lock()
	b.subscribeErr = err
	b.mu.Unlock()
}

// SetPublishError makes later Publish calls fail with err (nil clears).
func (b *Bus) SetPublishError(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Published returns the number of messages published on topic.
func (b *Bus) Published(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[topic]
}
