// Package command defines the remote control commands exchanged between
// consoles and a player, their payloads and their wire encoding.
package command

import (
	"errors"
	"time"
)

var (
	// ErrUnknownType is returned when decoding a command of an unknown type.
	ErrUnknownType = errors.New("unknown command type")
	// ErrInvalid is returned when a command fails validation.
	ErrInvalid = errors.New("invalid command")
)

// Type is the closed set of command kinds.
type Type string

const (
	TypeSkip         Type = "skip"
	TypePlay         Type = "play"
	TypePause        Type = "pause"
	TypeResume       Type = "resume"
	TypeSetVolume    Type = "set_volume"
	TypeSeek         Type = "seek"
	TypeQueueAdd     Type = "queue_add"
	TypeQueueRemove  Type = "queue_remove"
	TypeQueueClear   Type = "queue_clear"
	TypeQueueShuffle Type = "queue_shuffle"
	TypeLoadPlaylist Type = "load_playlist"
)

// Types lists every command type.
var Types = []Type{
	TypeSkip, TypePlay, TypePause, TypeResume, TypeSetVolume, TypeSeek,
	TypeQueueAdd, TypeQueueRemove, TypeQueueClear, TypeQueueShuffle, TypeLoadPlaylist,
}

// Status is the lifecycle status of a command.
// A command leaves pending exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// Result carries the outcome text of an executed or failed command.
type Result struct {
	Message string `json:"message,omitempty"`
}

// Command is a single remote control request addressed to one player.
type Command struct {
	ID             string
	TargetPlayerID string
	Type           Type
	Payload        Payload
	IssuedBy       string
	IssuedAt       time.Time
	Status         Status
	Result         *Result
}

// New builds a pending command for payload p.
func New(id, playerID, issuedBy string, p Payload, now time.Time) Command {
	return Command{
		ID:             id,
		TargetPlayerID: playerID,
		Type:           p.Type(),
		Payload:        p,
		IssuedBy:       issuedBy,
		IssuedAt:       now,
		Status:         StatusPending,
	}
}

// Age returns how long ago the command was issued.
func (c Command) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// Ack announces the terminal status of a command on the player's ack topic.
type Ack struct {
	ID       string    `json:"id"`
	PlayerID string    `json:"player_id"`
	Status   Status    `json:"status"`
	Result   *Result   `json:"result,omitempty"`
	At       time.Time `json:"at"`
}
