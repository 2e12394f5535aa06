// Package push defines the broadcast channel used to deliver commands,
// acks and state snapshots without waiting for the next poll.
package push

import (
	"context"
	"errors"
)

// ErrClosed is returned when using a closed channel or handle.
var ErrClosed = errors.New("push channel closed")

// Status is the health of one subscription.
type Status int

const (
	StatusSubscribed Status = iota
	StatusError
	StatusTimedOut
	StatusClosed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusError:
		return "error"
	case StatusTimedOut:
		return "timed_out"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Healthy reports whether messages are flowing.
func (s Status) Healthy() bool {
	return s == StatusSubscribed
}

// Handle identifies one subscription.
type Handle interface {
	Topic() string
}

// Channel is a topic-based broadcast transport.
//
// onStatus reports StatusSubscribed once the subscription is live, and
// exactly one of StatusError, StatusTimedOut or StatusClosed when it ends.
// After an end status no more messages are delivered on that handle.
type Channel interface {
	Subscribe(ctx context.Context, topic string, onMessage func([]byte), onStatus func(Status, error)) (Handle, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	Unsubscribe(h Handle) error
	Close() error
}

const topicPrefix = "jukebox:player:"

// CommandTopic carries commands addressed to playerID.
func CommandTopic(playerID string) string {
	return topicPrefix + playerID + ":commands"
}

// AckTopic carries command acks emitted by playerID.
func AckTopic(playerID string) string {
	return topicPrefix + playerID + ":acks"
}

// StateTopic carries state snapshots published by playerID.
func StateTopic(playerID string) string {
	return topicPrefix + playerID + ":state"
}
