// Package errmsg builds the human-readable text stored in a failed
// command's result and shown by consoles.
package errmsg

import (
	"fmt"

	"github.com/llehouerou/jukebox/internal/command"
)

// Op represents an operation that can fail.
type Op string

// Operation constants, grouped by domain.
const (
	// Playback operations
	OpPlaybackStart  Op = "start playback"
	OpPlaybackPause  Op = "pause playback"
	OpPlaybackResume Op = "resume playback"
	OpPlaybackSkip   Op = "skip to next video"
	OpPlaybackSeek   Op = "seek"
	OpSetVolume      Op = "set volume"

	// Queue operations
	OpQueueAdd     Op = "add to queue"
	OpQueueRemove  Op = "remove from queue"
	OpQueueClear   Op = "clear queue"
	OpQueueShuffle Op = "shuffle queue"
	OpPlaylistLoad Op = "load playlist"
	OpQueueRestore Op = "restore queue"

	// Command pipeline
	OpCommandDecode   Op = "decode command"
	OpCommandValidate Op = "validate command"
	OpCommandDispatch Op = "dispatch command"
	OpCommandSend     Op = "send command"

	// Media
	OpMediaResolve Op = "resolve media"
)

// OpFor returns the operation a command type performs.
func OpFor(t command.Type) Op {
	switch t {
	case command.TypeSkip:
		return OpPlaybackSkip
	case command.TypePlay:
		return OpPlaybackStart
	case command.TypePause:
		return OpPlaybackPause
	case command.TypeResume:
		return OpPlaybackResume
	case command.TypeSetVolume:
		return OpSetVolume
	case command.TypeSeek:
		return OpPlaybackSeek
	case command.TypeQueueAdd:
		return OpQueueAdd
	case command.TypeQueueRemove:
		return OpQueueRemove
	case command.TypeQueueClear:
		return OpQueueClear
	case command.TypeQueueShuffle:
		return OpQueueShuffle
	case command.TypeLoadPlaylist:
		return OpPlaylistLoad
	default:
		return OpCommandDispatch
	}
}

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message with additional context.
func FormatWith(op Op, context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, context, err)
}
