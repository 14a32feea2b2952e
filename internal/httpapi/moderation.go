package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/botastrophic/botastrophic/internal/store"
)

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	onlyUnresolved := strings.EqualFold(r.URL.Query().Get("unresolved"), "true")
	limit := queryInt(r, "limit", 100)
	flags, err := s.store.ListFlags(r.Context(), onlyUnresolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flags": flags, "count": len(flags)})
}

func (s *Server) handleResolveFlag(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_flag_id", err.Error())
		return
	}
	if err := s.store.ResolveFlag(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "flag_not_found", "flag not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "resolve_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}
