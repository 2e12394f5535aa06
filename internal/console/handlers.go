package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/llehouerou/jukebox/internal/command"
	"github.com/llehouerou/jukebox/internal/sender"
	"github.com/llehouerou/jukebox/internal/store"
)

type sendCommandRequest struct {
	Type     command.Type    `json:"type" validate:"required,max=64"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	IssuedBy string          `json:"issued_by,omitempty" validate:"max=128"`
	WaitMS   int             `json:"wait_ms,omitempty" validate:"min=0"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player-id")

	var req sendCommandRequest
	if err := readJSON(w, r, &req); err != nil {
		s.logger.Info("sendCommand", "read json err", err)
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if fieldErrors := s.validate.Struct(req); len(fieldErrors) > 0 {
		s.logger.Info("sendCommand", "validate err", fieldErrors)
		writeJSON(w, http.StatusBadRequest, envelope{"errors": fieldErrors})
		return
	}

	payload, err := command.DecodePayload(req.Type, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	wait := min(time.Duration(req.WaitMS)*time.Millisecond, s.cfg.MaxWait)
	res, err := s.sender.Send(r.Context(), playerID, payload, sender.Options{
		Wait:     wait,
		IssuedBy: req.IssuedBy,
	})
	switch {
	case errors.Is(err, command.ErrInvalid):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, sender.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.logger.Warn("sendCommand", "player", playerID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == sender.OutcomeSent || res.Outcome == sender.OutcomeNoAck {
		status = http.StatusAccepted
	}
	writeJSON(w, status, envelope{"data": res})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player-id")

	st, err := s.store.GetState(r.Context(), playerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("player %q has not published any state", playerID))
		return
	case err != nil:
		s.logger.Warn("getState", "player", playerID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"data": st})
}
