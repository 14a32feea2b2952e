package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/store"
)

type createBotRequest struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
	Paused bool            `json:"paused"`
}

type updateBotRequest struct {
	Name   *string         `json:"name"`
	Config json.RawMessage `json:"config"`
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.store.ListBots(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bots": bots, "count": len(bots)})
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if len(req.Config) > 0 {
		if _, err := store.ParseBotConfig(req.Config); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
	} else {
		req.Config = json.RawMessage(`{}`)
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	bot := store.Bot{
		ID:        id,
		Name:      req.Name,
		Config:    req.Config,
		Source:    "api",
		Paused:    req.Paused,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBot(r.Context(), bot); err != nil {
		respondError(w, http.StatusConflict, "create_failed", err.Error())
		return
	}
	s.logger.Info("bot created", zap.String("bot_id", bot.ID), zap.String("name", bot.Name))
	respondJSON(w, http.StatusCreated, bot)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, bot)
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	var req updateBotRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "name cannot be empty")
			return
		}
		bot.Name = *req.Name
	}
	if len(req.Config) > 0 {
		if _, err := store.ParseBotConfig(req.Config); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
			return
		}
		bot.Config = req.Config
	}
	if err := s.store.UpdateBot(r.Context(), bot); err != nil {
		respondError(w, http.StatusInternalServerError, "update_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, bot)
}

func (s *Server) handlePauseBot(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleResumeBot(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	if err := s.store.SetBotPaused(r.Context(), bot.ID, paused); err != nil {
		respondError(w, http.StatusInternalServerError, "pause_failed", err.Error())
		return
	}
	bot.Paused = paused
	s.logger.Info("bot pause state changed", zap.String("bot_id", bot.ID), zap.Bool("paused", paused))
	respondJSON(w, http.StatusOK, bot)
}

func (s *Server) handleBotUsage(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	totals, err := s.governor.TodayTotals(r.Context(), bot.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "usage_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"bot_id": bot.ID,
		"day":    time.Now().UTC().Format("2006-01-02"),
		"usage":  totals,
	})
}

func (s *Server) handleBotActivity(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	logs, err := s.store.ListActivityByBot(r.Context(), bot.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "activity_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot.ID, "activity": logs})
}

func (s *Server) handleBotMemory(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	warm, err := s.store.GetWarmMemory(r.Context(), bot.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "memory_failed", err.Error())
		return
	}
	limit := queryInt(r, "limit", 20)
	cold, err := s.store.ListColdMemories(r.Context(), bot.ID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "memory_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"bot_id": bot.ID,
		"warm":   warm,
		"cold":   cold,
	})
}

func (s *Server) handleTriggerBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.TriggerBot(r.Context(), bot.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "heartbeat_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot.ID, "triggered": true})
}

type followRequest struct {
	TargetID string `json:"target_id"`
}

func (s *Server) handleFollowBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	var req followRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	target := strings.TrimSpace(req.TargetID)
	if target == "" || target == bot.ID {
		respondError(w, http.StatusBadRequest, "invalid_request", "target_id must name another bot")
		return
	}
	if _, err := s.store.GetBot(r.Context(), target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "bot_not_found", "target bot not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "follow_failed", err.Error())
		return
	}
	if err := s.store.CreateFollow(r.Context(), bot.ID, target); err != nil {
		respondError(w, http.StatusInternalServerError, "follow_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"follower_id": bot.ID, "following_id": target})
}

func (s *Server) handleListFollows(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	follows, err := s.store.ListFollows(r.Context(), bot.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "follows_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bot_id": bot.ID, "follows": follows})
}

func (s *Server) loadBot(w http.ResponseWriter, r *http.Request) (store.Bot, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_bot_id", "missing bot id")
		return store.Bot{}, false
	}
	bot, err := s.store.GetBot(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "bot_not_found", "bot not found")
			return store.Bot{}, false
		}
		respondError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return store.Bot{}, false
	}
	return bot, true
}
