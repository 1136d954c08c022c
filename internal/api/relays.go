package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relayboard-core/internal/engine"
	"github.com/nerrad567/relayboard-core/internal/relay"
)

// defaultHistoryLimit is used when ?limit is absent.
const defaultHistoryLimit = 50

// handleListRelays returns the whole table.
func (s *Server) handleListRelays(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, relay.Table{Relays: s.engine.Snapshot()})
}

// handleGetRelay returns one relay.
func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	id, ok := relayID(w, r)
	if !ok {
		return
	}
	item, found := s.engine.Item(id)
	if !found {
		writeNotFound(w, "relay not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleRelayHistory returns the newest state history entries for a relay.
//
// Query parameters:
//   - limit: Maximum entries (default 50, capped by the repository)
func (s *Server) handleRelayHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	id, ok := relayID(w, r)
	if !ok {
		return
	}
	if _, found := s.engine.Item(id); !found {
		writeNotFound(w, "relay not found")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("listing relay history failed", "relay_id", id, "error", err)
		writeInternalError(w, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"relay_id": id,
		"entries":  entries,
		"count":    len(entries),
	})
}

// handleBoardSync pushes the current table to the board.
func (s *Server) handleBoardSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.SyncBoard(r.Context())
	switch {
	case errors.Is(err, engine.ErrNoBoard):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Warn("board sync failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"board":     res.Board.String(),
		"requested": res.Requested.String(),
		"echoed":    res.Echoed.String(),
		"matched":   res.Matched,
		"mismatch":  res.Requested.Diff(res.Echoed),
	})
}

// relayID parses the {id} URL parameter, writing a 400 on failure.
func relayID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeBadRequest(w, "relay id must be a positive integer")
		return 0, false
	}
	return id, true
}
