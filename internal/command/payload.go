package command

import (
	"time"

	"github.com/llehouerou/jukebox/internal/queue"
)

// Payload is the closed union of command payloads.
// Each command type has exactly one payload struct.
type Payload interface {
	Type() Type
	isPayload()
}

// Skip rotates to the next video.
type Skip struct{}

// Play starts playback from the queue if idle, or resumes if paused.
type Play struct{}

// Pause pauses playback.
type Pause struct{}

// Resume resumes paused playback.
type Resume struct{}

// SetVolume sets the output volume in percent.
type SetVolume struct {
	Volume int `json:"volume" validate:"min=0,max=100"`
}

// Seek moves the playback position.
type Seek struct {
	Position time.Duration `json:"position" validate:"min=0"`
}

// QueueAdd enqueues videos on the active or the priority queue.
// Position, when set, inserts into the active queue instead of appending.
type QueueAdd struct {
	Videos   []queue.Video `json:"videos" validate:"required,min=1,max=500,dive"`
	Priority bool          `json:"priority,omitempty"`
	Position *int          `json:"position,omitempty" validate:"omitempty,min=0"`
}

// QueueRemove removes one entry from a queue.
type QueueRemove struct {
	Queue queue.Source `json:"queue" validate:"queue"`
	Index int          `json:"index" validate:"min=0"`
}

// QueueClear empties a queue.
type QueueClear struct {
	Queue queue.Source `json:"queue" validate:"queue"`
}

// QueueShuffle shuffles a queue, optionally pinning its head.
type QueueShuffle struct {
	Queue     queue.Source `json:"queue" validate:"queue"`
	KeepFirst bool         `json:"keep_first,omitempty"`
}

// LoadPlaylist replaces the active queue with a named playlist.
type LoadPlaylist struct {
	Name   string        `json:"name" validate:"max=512"`
	Videos []queue.Video `json:"videos" validate:"max=5000,dive"`
	Play   bool          `json:"play,omitempty"`
}

func (Skip) Type() Type         { return TypeSkip }
func (Play) Type() Type         { return TypePlay }
func (Pause) Type() Type        { return TypePause }
func (Resume) Type() Type       { return TypeResume }
func (SetVolume) Type() Type    { return TypeSetVolume }
func (Seek) Type() Type         { return TypeSeek }
func (QueueAdd) Type() Type     { return TypeQueueAdd }
func (QueueRemove) Type() Type  { return TypeQueueRemove }
func (QueueClear) Type() Type   { return TypeQueueClear }
func (QueueShuffle) Type() Type { return TypeQueueShuffle }
func (LoadPlaylist) Type() Type { return TypeLoadPlaylist }

func (Skip) isPayload()         {}
func (Play) isPayload()         {}
func (Pause) isPayload()        {}
func (Resume) isPayload()       {}
func (SetVolume) isPayload()    {}
func (Seek) isPayload()         {}
func (QueueAdd) isPayload()     {}
func (QueueRemove) isPayload()  {}
func (QueueClear) isPayload()   {}
func (QueueShuffle) isPayload() {}
func (LoadPlaylist) isPayload() {}

// newPayload returns a pointer to the zero payload for t.
func newPayload(t Type) (Payload, bool) {
	switch t {
	case TypeSkip:
		return &Skip{}, true
	case TypePlay:
		return &Play{}, true
	case TypePause:
		return &Pause{}, true
	case TypeResume:
		return &Resume{}, true
	case TypeSetVolume:
		return &SetVolume{}, true
	case TypeSeek:
		return &Seek{}, true
	case TypeQueueAdd:
		return &QueueAdd{}, true
	case TypeQueueRemove:
		return &QueueRemove{}, true
	case TypeQueueClear:
		return &QueueClear{}, true
	case TypeQueueShuffle:
		return &QueueShuffle{}, true
	case TypeLoadPlaylist:
		return &LoadPlaylist{}, true
	default:
		return nil, false
	}
}

// deref turns the pointer returned by newPayload back into a value.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Skip:
		return *v
	case *Play:
		return *v
	case *Pause:
		return *v
	case *Resume:
		return *v
	case *SetVolume:
		return *v
	case *Seek:
		return *v
	case *QueueAdd:
		return *v
	case *QueueRemove:
		return *v
	case *QueueClear:
		return *v
	case *QueueShuffle:
		return *v
	case *LoadPlaylist:
		return *v
	default:
		return p
	}
}
