package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/store"
)

func (s *Store) InsertCommand(ctx context.Context, c command.Command) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	status := c.Status
	if status == "" {
		status = command.StatusPending
	}
	fields := map[string]any{
		"id":               c.ID,
		"target_player_id": c.TargetPlayerID,
		"type":             string(c.Type),
		"payload":          string(payload),
		"issued_by":        c.IssuedBy,
		"issued_at":        strconv.FormatInt(c.IssuedAt.UnixNano(), 10),
		"status":           string(status),
		"updated_at":       strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if c.Result != nil {
		b, err := json.Marshal(c.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fields["result"] = string(b)
	}

	commandKey := s.getCommandKey(c.ID)
	pendingKey := s.getPendingKey(c.TargetPlayerID)
	pipe := s.rc.TxPipeline()
	pipe.HSet(ctx, commandKey, fields)
	pipe.Expire(ctx, commandKey, s.commandTTL)
	if status == command.StatusPending {
		pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(c.IssuedAt.UnixMilli()), Member: c.ID})
		pipe.Expire(ctx, pendingKey, s.commandTTL)
	}
	if err := s.executePipe(ctx, pipe); err != nil {
		return wrap("insert command", err)
	}
	return nil
}

func (s *Store) UpdateCommandStatus(ctx context.Context, id string, status command.Status, result *command.Result) error {
	var res string
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		res = string(b)
	}
	n, err := s.runSetStatus(ctx, id, "", status, res)
	if err != nil {
		return wrap("update command status", err)
	}
	if n < 0 {
		return fmt.Errorf("command %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) runSetStatus(ctx context.Context, id string, expect, status command.Status, result string) (int64, error) {
	return s.setStatus.Run(ctx, s.rc,
		[]string{s.getCommandKey(id)},
		string(expect), string(status), result, time.Now().UnixNano(), playerPrefix,
	).Int64()
}

func (s *Store) ExpireCommands(ctx context.Context, updates []store.StatusUpdate) error {
	for _, u := range updates {
		if _, err := s.runSetStatus(ctx, u.ID, command.StatusPending, u.Status, ""); err != nil {
			return wrap("expire commands", err)
		}
	}
	return nil
}

func (s *Store) QueryPendingCommands(ctx context.Context, playerID string, since time.Time) ([]command.Command, error) {
	pendingKey := s.getPendingKey(playerID)
	ids, err := s.rc.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, wrap("query pending commands", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.rc.Pipeline()
	gets := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		gets[i] = pipe.HGetAll(ctx, s.getCommandKey(id))
	}
	if err := s.executePipe(ctx, pipe); err != nil {
		return nil, wrap("query pending commands", err)
	}

	out := make([]command.Command, 0, len(ids))
	var gone []any
	for i, get := range gets {
		fields := get.Val()
		if len(fields) == 0 {
			gone = append(gone, ids[i])
			continue
		}
		c, err := decodeCommand(fields)
		if err != nil {
			return nil, err
		}
		if c.Status != command.StatusPending || c.IssuedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	if len(gone) > 0 {
		// rows expired under their index entry
		s.rc.ZRem(ctx, pendingKey, gone...)
	}
	return out, nil
}

func (s *Store) GetCommand(ctx context.Context, id string) (command.Command, error) {
	fields, err := s.rc.HGetAll(ctx, s.getCommandKey(id)).Result()
	if err != nil {
		return command.Command{}, wrap("get command", err)
	}
	if len(fields) == 0 {
		return command.Command{}, fmt.Errorf("command %s: %w", id, store.ErrNotFound)
	}
	return decodeCommand(fields)
}

func decodeCommand(fields map[string]string) (command.Command, error) {
	c := command.Command{
		ID:             fields["id"],
		TargetPlayerID: fields["target_player_id"],
		Type:           command.Type(fields["type"]),
		IssuedBy:       fields["issued_by"],
		Status:         command.Status(fields["status"]),
	}
	p, err := command.DecodePayload(c.Type, []byte(fields["payload"]))
	if err != nil {
		return c, err
	}
	c.Payload = p
	ns, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return c, fmt.Errorf("decode issued_at of %s: %w", c.ID, err)
	}
	c.IssuedAt = time.Unix(0, ns).UTC()
	if r := fields["result"]; r != "" {
		var res command.Result
		if err := json.Unmarshal([]byte(r), &res); err != nil {
			return c, fmt.Errorf("decode result of %s: %w", c.ID, err)
		}
		c.Result = &res
	}
	return c, nil
}
