package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/llehouerou/jukebox/internal/push"
	"github.com/llehouerou/jukebox/internal/store"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Output is one frame of the event stream.
type Output struct {
	Type    string          `json:"type"` // "state" or "ack"
	Payload json.RawMessage `json:"payload"`
}

// events streams the player's state snapshots and command acks over a
// websocket. The current stored state is sent first when there is one.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player-id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("events", "upgrade err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan Output, eventBuffer)
	forward := func(kind string) func([]byte) {
		return func(b []byte) {
			select {
			case out <- Output{Type: kind, Payload: b}:
			default:
				s.logger.Warn("event stream lagging, dropping frame", "player", playerID, "type", kind)
			}
		}
	}
	onStatus := func(st push.Status, err error) {
		if !st.Healthy() {
			s.logger.Info("event subscription ended", "player", playerID, "status", st.String(), "err", err)
			cancel()
		}
	}

	for topic, kind := range map[string]string{
		push.StateTopic(playerID): "state",
		push.AckTopic(playerID):   "ack",
	} {
		h, err := s.channel.Subscribe(ctx, topic, forward(kind), onStatus)
		if err != nil {
			s.logger.Warn("events", "player", playerID, "subscribe err", err)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"))
			return
		}
		defer func() { _ = s.channel.Unsubscribe(h) }()
	}

	if st, err := s.store.GetState(ctx, playerID); err == nil {
		if b, err := json.Marshal(st); err == nil {
			forward("state")(b)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("events", "player", playerID, "initial state err", err)
	}

	// The client sends nothing; reading detects when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case frame := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
			return
		}
	}
}
