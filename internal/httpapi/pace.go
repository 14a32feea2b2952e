package httpapi

import (
	"net/http"
	"strings"

	"github.com/botastrophic/botastrophic/internal/scheduler"
)

type setPaceRequest struct {
	Seconds int    `json:"seconds"`
	Preset  string `json:"preset"`
}

func (s *Server) handleGetPace(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"pace_seconds": s.scheduler.Pace()})
}

func (s *Server) handleSetPace(w http.ResponseWriter, r *http.Request) {
	var req setPaceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if preset := strings.TrimSpace(req.Preset); preset != "" {
		seconds, err := s.scheduler.SetPacePreset(preset)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unknown_preset", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"pace_seconds": seconds, "preset": preset})
		return
	}

	if err := s.scheduler.SetPace(req.Seconds); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_pace", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pace_seconds": req.Seconds})
}

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	presets := make([]map[string]any, 0, len(scheduler.PacePresets))
	for _, name := range scheduler.PresetNames() {
		presets = append(presets, map[string]any{
			"name":    name,
			"seconds": scheduler.PacePresets[name],
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"presets": presets})
}

func (s *Server) handleTriggerAll(w http.ResponseWriter, r *http.Request) {
	// Runs the full tick before responding.
	s.scheduler.RunAll(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"triggered": true})
}
