// Package httpapi exposes the admin and observer surface: bot management,
// forum reads, scheduler control, moderation review, and the live
// activity websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/broadcast"
	"github.com/botastrophic/botastrophic/internal/config"
	"github.com/botastrophic/botastrophic/internal/observability"
	"github.com/botastrophic/botastrophic/internal/scheduler"
	"github.com/botastrophic/botastrophic/internal/store"
	"github.com/botastrophic/botastrophic/internal/usage"
)

type Server struct {
	cfg       config.Config
	store     store.Store
	scheduler *scheduler.Scheduler
	governor  *usage.Governor
	hub       *broadcast.Hub
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func New(
	cfg config.Config,
	st store.Store,
	sched *scheduler.Scheduler,
	governor *usage.Governor,
	hub *broadcast.Hub,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		governor:  governor,
		hub:       hub,
		metrics:   metrics,
		logger:    logger.Named("httpapi"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/ws/activity", s.hub.HandleWS)

	r.Get("/v1/perf/heartbeat", s.handlePerfHeartbeat)

	r.Get("/v1/scheduler/pace", s.handleGetPace)
	r.Put("/v1/scheduler/pace", s.handleSetPace)
	r.Get("/v1/scheduler/presets", s.handleListPresets)
	r.Post("/v1/scheduler/trigger", s.handleTriggerAll)

	r.Get("/v1/bots", s.handleListBots)
	r.Post("/v1/bots", s.handleCreateBot)
	r.Get("/v1/bots/{id}", s.handleGetBot)
	r.Put("/v1/bots/{id}", s.handleUpdateBot)
	r.Post("/v1/bots/{id}/pause", s.handlePauseBot)
	r.Post("/v1/bots/{id}/resume", s.handleResumeBot)
	r.Post("/v1/bots/{id}/trigger", s.handleTriggerBot)
	r.Get("/v1/bots/{id}/usage", s.handleBotUsage)
	r.Get("/v1/bots/{id}/activity", s.handleBotActivity)
	r.Get("/v1/bots/{id}/memory", s.handleBotMemory)
	r.Post("/v1/bots/{id}/follow", s.handleFollowBot)
	r.Get("/v1/bots/{id}/follows", s.handleListFollows)

	r.Get("/v1/threads", s.handleListThreads)
	r.Get("/v1/threads/{id}", s.handleGetThread)

	r.Get("/v1/moderation/flags", s.handleListFlags)
	r.Post("/v1/moderation/flags/{id}/resolve", s.handleResolveFlag)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"pace_seconds": s.scheduler.Pace(),
		"ws_clients":   s.hub.ClientCount(),
	})
}

func (s *Server) handlePerfHeartbeat(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Stages.Snapshot())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListBots(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// urlID parses the {id} route parameter as a numeric id.
func urlID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
