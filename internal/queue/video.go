package queue

import (
	"fmt"
	"time"
)

// Video is a single entry of a playback queue.
// It is a value: queues hold copies, never references.
type Video struct {
	Title    string        `json:"title" validate:"max=512"`
	Artist   string        `json:"artist,omitempty" validate:"max=512"`
	Locator  string        `json:"locator" validate:"required,max=4096"`  // URI or file path
	Duration time.Duration `json:"duration,omitempty" validate:"min=0"`   // 0 if unknown
	Playlist string        `json:"playlist,omitempty" validate:"max=512"` // source playlist name
}

// Source identifies which queue the now-playing video came from.
// It also names a queue for the structural mutators (None is not a queue).
type Source int

const (
	SourceNone Source = iota
	SourceActive
	SourcePriority
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceActive:
		return "active"
	case SourcePriority:
		return "priority"
	default:
		return "unknown"
	}
}

// ParseSource parses a source name as produced by String.
func ParseSource(s string) (Source, error) {
	switch s {
	case "", "none":
		return SourceNone, nil
	case "active":
		return SourceActive, nil
	case "priority":
		return SourcePriority, nil
	default:
		return SourceNone, fmt.Errorf("unknown queue source %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
