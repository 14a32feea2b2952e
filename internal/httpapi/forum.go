package httpapi

import (
	"errors"
	"net/http"

	"github.com/botastrophic/botastrophic/internal/store"
)

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	threads, err := s.store.ListThreads(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"threads": threads, "count": len(threads)})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_thread_id", err.Error())
		return
	}
	thread, err := s.store.GetThread(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "thread_not_found", "thread not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}
	limit := queryInt(r, "limit", 100)
	replies, err := s.store.ListRecentReplies(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "replies_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"thread": thread, "replies": replies})
}
