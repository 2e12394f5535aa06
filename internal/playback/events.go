package playback

import (
	"time"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/queue"
)

// StateChange is emitted when playback state changes.
type StateChange struct {
	Previous State
	Current  State
}

// TrackChange is emitted when a different video becomes the now-playing one.
//
// Emitted by skip, play from idle, track end and playlist loads that start
// playback. Pause, resume and stop emit StateChange only. Current is nil
// when the queues ran dry.
type TrackChange struct {
	Previous *queue.Video
	Current  *queue.Video
	Source   queue.Source
}

// QueueChange is emitted when the queue contents change.
type QueueChange struct {
	Queue queue.State
}

// PositionChange is emitted when a seek occurs.
type PositionChange struct {
	Position time.Duration
}

// VolumeChange is emitted when the output volume changes.
type VolumeChange struct {
	Volume int
}

// CommandDone is emitted after a command handler returns, for remote and
// local commands alike.
type CommandDone struct {
	ID       string
	Type     command.Type
	IssuedBy string
	Status   command.Status
	Message  string
}

// ErrorEvent is emitted when an error occurs during playback.
type ErrorEvent struct {
	Operation string // e.g., "play", "seek"
	Locator   string // video locator if applicable
	Err       error
}
