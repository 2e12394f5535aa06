// Package notify raises desktop notifications about a player's link to the
// shared store, through the freedesktop notification service.
package notify

import (
	"errors"
	"time"
)

// AppName is reported to the notification daemon.
const AppName = "Jukebox"

// ErrUnavailable is returned by New when no notification service can be reached.
var ErrUnavailable = errors.New("notification service unavailable")

// Urgency levels as defined by the freedesktop notification protocol.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Notification categories used by the watcher.
const (
	CategoryDisconnected = "network.disconnected"
	CategoryConnected    = "network.connected"
)

type Notification struct {
	Title      string
	Body       string
	Category   string
	Timeout    time.Duration // 0 lets the server decide
	Sticky     bool          // never expires; overrides Timeout
	ReplacesID uint32
	Urgency    Urgency
}

// Notifier sends desktop notifications.
type Notifier interface {
	// Notify shows n and returns the server-assigned ID.
	Notify(n Notification) (uint32, error)
	// Close withdraws a notification.
	Close(id uint32) error
}

// expireTimeout converts the notification lifetime to the protocol's
// milliseconds, where -1 means server default and 0 means never.
func expireTimeout(n Notification) int32 {
	switch {
	case n.Sticky:
		return 0
	case n.Timeout <= 0:
		return -1
	default:
		return int32(n.Timeout.Milliseconds())
	}
}
