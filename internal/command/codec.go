package command

import (
	"encoding/json"
	"fmt"
	"time"
)

type wireCommand struct {
	ID             string          `json:"id"`
	TargetPlayerID string          `json:"target_player_id"`
	Type           Type            `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IssuedBy       string          `json:"issued_by,omitempty"`
	IssuedAt       time.Time       `json:"issued_at"`
	Status         Status          `json:"status"`
	Result         *Result         `json:"result,omitempty"`
}

// MarshalJSON encodes the command with its payload nested under "payload".
func (c Command) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	if c.Payload != nil {
		b, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", c.Type, err)
		}
		payload = b
	}
	status := c.Status
	if status == "" {
		status = StatusPending
	}
	return json.Marshal(wireCommand{
		ID:             c.ID,
		TargetPlayerID: c.TargetPlayerID,
		Type:           c.Type,
		Payload:        payload,
		IssuedBy:       c.IssuedBy,
		IssuedAt:       c.IssuedAt,
		Status:         status,
		Result:         c.Result,
	})
}

// UnmarshalJSON decodes a command, picking the payload struct from "type".
func (c *Command) UnmarshalJSON(b []byte) error {
	var w wireCommand
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*c = Command{
		ID:             w.ID,
		TargetPlayerID: w.TargetPlayerID,
		Type:           w.Type,
		Payload:        p,
		IssuedBy:       w.IssuedBy,
		IssuedAt:       w.IssuedAt,
		Status:         w.Status,
		Result:         w.Result,
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	return nil
}

// DecodePayload decodes raw into the payload struct for t.
// An empty raw yields the zero payload.
func DecodePayload(t Type, raw []byte) (Payload, error) {
	p, ok := newPayload(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
	}
	return deref(p), nil
}

// Decode parses a command from its JSON wire form.
func Decode(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return c, nil
}

// Encode returns the JSON wire form of c.
func Encode(c Command) ([]byte, error) {
	return json.Marshal(c)
}
