package playback

import (
	"github.com/llehouerou/jukebox/internal/player"
	"github.com/llehouerou/jukebox/internal/store"
)

// State represents the playback state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// IsActive returns true if playback is active (playing or paused).
func (s State) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}

// Status returns the published form of s.
func (s State) Status() store.PlaybackStatus {
	switch s {
	case StatePlaying:
		return store.StatusPlaying
	case StatePaused:
		return store.StatusPaused
	default:
		return store.StatusIdle
	}
}

func stateFromPlayer(ps player.State) State {
	switch ps {
	case player.Playing:
		return StatePlaying
	case player.Paused:
		return StatePaused
	default:
		return StateStopped
	}
}
