package player

import "time"

// Interface is the playback output the orchestrator drives. Implementations
// only render a locator; they never touch the queue.
type Interface interface {
	// Play stops whatever is playing and starts locator. duration is the
	// expected length, zero when unknown.
	Play(locator string, duration time.Duration) error
	Stop()
	Pause()
	Resume()
	// Seek jumps to an absolute position.
	Seek(pos time.Duration) error
	SetVolume(level int)
	Volume() int
	State() State
	Position() time.Duration
	// FinishedChan receives once each time a track plays to its end.
	FinishedChan() <-chan struct{}
	Close() error
}

// Verify Player implements Interface at compile time.
var _ Interface = (*Player)(nil)
