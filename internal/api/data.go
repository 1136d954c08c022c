package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/relayboard-core/internal/board"
	"github.com/nerrad567/relayboard-core/internal/engine"
	"github.com/nerrad567/relayboard-core/internal/events"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// applyResponse is the body of a successful POST /data.
type applyResponse struct {
	Status string     `json:"status"`
	Item   relay.Item `json:"item"`
}

// handleGetData serves the table snapshot or waits for the next change.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("initial_event") {
		writeJSON(w, http.StatusOK, relay.Table{Relays: s.engine.Snapshot()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	sub := s.bus.Subscribe()
	defer sub.Close()

	ev, err := sub.Next(ctx, s.cfg.LongPollTimeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ev)
	case errors.Is(err, events.ErrTimeout):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, events.ErrLagged):
		w.WriteHeader(http.StatusResetContent)
	case errors.Is(err, events.ErrClosed):
		writeInternalError(w, "event stream closed")
	case r.Context().Err() != nil:
		// Client went away; nothing to answer.
	default:
		// Server shutting down.
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostData applies a relay mutation.
func (s *Server) handlePostData(w http.ResponseWriter, r *http.Request) {
	var candidate relay.Item
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	outcome, err := s.engine.Apply(r.Context(), candidate)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeNotFound(w, err.Error())
		return
	case errors.Is(err, engine.ErrPersist):
		s.logger.Error("relay change not persisted", "relay_id", candidate.ID, "error", err)
		writeInternalError(w, "relay changed but could not be saved")
		return
	case err != nil:
		writeInternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, applyResponse{
		Status: outcome.Status.String(),
		Item:   outcome.Item,
	})
}

// handleRegister records the board announcing itself.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg board.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	addr, err := s.engine.Register(r.Context(), reg)
	switch {
	case errors.Is(err, board.ErrInvalidDevice), errors.Is(err, board.ErrInvalidAddress):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, board.ErrAlreadyRegistered):
		writeConflict(w, err.Error())
		return
	case err != nil:
		writeInternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "registered",
		"ip":     addr.String(),
	})
}
