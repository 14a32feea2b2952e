package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/action"
	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/memory"
	"github.com/botastrophic/botastrophic/internal/observability"
	"github.com/botastrophic/botastrophic/internal/prompt"
	"github.com/botastrophic/botastrophic/internal/store"
	"github.com/botastrophic/botastrophic/internal/usage"
)

const rawResponseKeep = 500

// Broadcaster fans an event out to every connected activity watcher.
type Broadcaster interface {
	Broadcast(event map[string]any)
}

// Pipeline runs one full heartbeat for a bot: gate checks, context build,
// the model call, execution, moderation, memory, and broadcast.
type Pipeline struct {
	store     store.Store
	builder   *prompt.Builder
	client    llm.Client
	governor  *usage.Governor
	executor  *Executor
	moderator *Moderator
	memory    *memory.Service
	hub       Broadcaster
	metrics   *observability.Metrics
	logger    *zap.Logger
	locks     *botLocks
	now       func() time.Time
}

func NewPipeline(
	st store.Store,
	builder *prompt.Builder,
	client llm.Client,
	governor *usage.Governor,
	executor *Executor,
	moderator *Moderator,
	mem *memory.Service,
	hub Broadcaster,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		store:     st,
		builder:   builder,
		client:    client,
		governor:  governor,
		executor:  executor,
		moderator: moderator,
		memory:    mem,
		hub:       hub,
		metrics:   metrics,
		logger:    logger.Named("heartbeat"),
		locks:     newBotLocks(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Heartbeat runs one cycle for botID. Heartbeats for the same bot are
// serialized; different bots run concurrently. A model call failure is an
// error and leaves no activity entry, everything downstream of a
// successful call degrades instead of failing the cycle.
func (p *Pipeline) Heartbeat(ctx context.Context, botID string) error {
	l := p.locks.lock(botID)
	defer l.Unlock()

	bot, err := p.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("load bot: %w", err)
	}

	if bot.Paused {
		p.metrics.Heartbeats.WithLabelValues(string(action.KindDoNothing), "paused").Inc()
		return p.logSkip(ctx, bot, map[string]any{
			"reason": "Bot is paused by admin",
			"paused": true,
		})
	}

	allowed, reason, err := p.governor.Check(ctx, botID)
	if err != nil {
		return fmt.Errorf("usage check: %w", err)
	}
	if !allowed {
		p.logger.Info("heartbeat capped", zap.String("bot_id", botID), zap.String("reason", reason))
		p.metrics.Heartbeats.WithLabelValues(string(action.KindDoNothing), "capped").Inc()
		return p.logSkip(ctx, bot, map[string]any{
			"reason":       reason,
			"cap_exceeded": true,
		})
	}

	cycleStart := p.now()

	buildStart := p.now()
	systemPrompt, err := p.builder.Build(ctx, bot)
	if err != nil {
		return fmt.Errorf("build prompt: %w", err)
	}
	p.metrics.Stages.Observe("build_prompt", p.now().Sub(buildStart))

	cfg, err := store.ParseBotConfig(bot.Config)
	if err != nil {
		return fmt.Errorf("parse bot config: %w", err)
	}

	started := p.now()
	resp, err := p.client.Think(ctx, llm.Request{
		Prompt:      systemPrompt,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	p.metrics.ObserveModelCall(time.Since(started))
	p.metrics.Stages.Observe("model_call", time.Since(started))
	if err != nil {
		p.metrics.Heartbeats.WithLabelValues(string(action.KindDoNothing), "model_error").Inc()
		return fmt.Errorf("model call for bot %s: %w", botID, err)
	}
	p.metrics.ModelTokens.WithLabelValues("input").Add(float64(resp.InputTokens))
	p.metrics.ModelTokens.WithLabelValues("output").Add(float64(resp.OutputTokens))
	tokensUsed := resp.InputTokens + resp.OutputTokens

	// Usage is charged as soon as the model answered; a failure later in
	// the cycle must not make the call free.
	if err := p.governor.Record(ctx, botID, p.client.Provider(), resp.InputTokens, resp.OutputTokens); err != nil {
		p.logger.Warn("record usage failed", zap.String("bot_id", botID), zap.Error(err))
	}

	act := action.Parse(resp.Content)
	execStart := p.now()
	result, err := p.executor.Execute(ctx, bot, act)
	if err != nil {
		return fmt.Errorf("execute %s: %w", act.Kind(), err)
	}
	p.metrics.Stages.Observe("execute", p.now().Sub(execStart))

	if err := p.moderator.Review(ctx, botID, result, actionContent(act)); err != nil {
		p.logger.Warn("moderation failed", zap.String("bot_id", botID), zap.Error(err))
	}

	details := result.Details()
	details["raw_response"] = clip(resp.Content, rawResponseKeep)
	if fresh, err := p.store.GetBot(ctx, botID); err == nil {
		details["reputation_score"] = fresh.ReputationScore
	}

	entry := store.ActivityLog{
		BotID:      botID,
		ActionType: string(result.Action),
		Details:    details,
		TokensUsed: tokensUsed,
		CreatedAt:  p.now(),
	}
	if err := p.store.AppendActivity(ctx, &entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	p.foldSearchResults(ctx, botID, result)
	p.updateMemory(ctx, bot, result, details)
	if err := p.memory.MaybeCompress(ctx, botID); err != nil {
		p.logger.Warn("memory compression failed", zap.String("bot_id", botID), zap.Error(err))
	}

	outcome := "ok"
	if !result.Success {
		outcome = "failed"
	}
	p.metrics.Heartbeats.WithLabelValues(string(result.Action), outcome).Inc()

	p.broadcast(bot, result, details, tokensUsed)
	p.metrics.Stages.Observe("heartbeat_total", p.now().Sub(cycleStart))

	p.logger.Info("heartbeat complete",
		zap.String("bot_id", botID),
		zap.String("bot_name", bot.Name),
		zap.String("action", string(result.Action)),
		zap.Bool("success", result.Success),
		zap.Int("tokens_used", tokensUsed))
	return nil
}

func actionContent(act action.Action) string {
	switch a := act.(type) {
	case action.CreateThread:
		return a.Content
	case action.Reply:
		return a.Content
	default:
		return ""
	}
}

// logSkip records a do_nothing activity entry for a cycle that never
// reached the model.
func (p *Pipeline) logSkip(ctx context.Context, bot store.Bot, details map[string]any) error {
	entry := store.ActivityLog{
		BotID:      bot.ID,
		ActionType: string(action.KindDoNothing),
		Details:    details,
		CreatedAt:  p.now(),
	}
	if err := p.store.AppendActivity(ctx, &entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// foldSearchResults turns successful web searches into remembered facts so
// the knowledge survives past this cycle.
func (p *Pipeline) foldSearchResults(ctx context.Context, botID string, result Result) {
	if !result.Success || result.Action != action.KindWebSearch || len(result.Results) == 0 {
		return
	}
	facts := make([]store.Fact, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Extract == "" {
			continue
		}
		facts = append(facts, store.Fact{
			Fact:   clip(r.Extract, 200),
			Source: "wikipedia",
			Date:   p.now().Format("2006-01-02"),
		})
	}
	if len(facts) == 0 {
		return
	}
	if err := p.memory.Merge(ctx, botID, memory.Delta{Facts: facts}); err != nil {
		p.logger.Warn("fold search results failed", zap.String("bot_id", botID), zap.Error(err))
	}
}

// updateMemory runs extraction for actions that changed the forum.
// Failures are logged, never fatal. Compression is checked separately by
// the caller, after every cycle's memory steps.
func (p *Pipeline) updateMemory(ctx context.Context, bot store.Bot, result Result, details map[string]any) {
	if !result.Success {
		return
	}
	switch result.Action {
	case action.KindCreateThread, action.KindReply, action.KindVote:
	default:
		return
	}
	if err := p.memory.ExtractAndMerge(ctx, bot.ID, bot.Name, string(result.Action), details); err != nil {
		p.logger.Warn("memory extraction failed", zap.String("bot_id", bot.ID), zap.Error(err))
	}
}

func (p *Pipeline) broadcast(bot store.Bot, result Result, details map[string]any, tokensUsed int) {
	if p.hub == nil {
		return
	}
	public := make(map[string]any, len(details))
	for k, v := range details {
		if k == "raw_response" {
			continue
		}
		public[k] = v
	}
	p.hub.Broadcast(map[string]any{
		"type":        "heartbeat_complete",
		"bot_id":      bot.ID,
		"bot_name":    bot.Name,
		"action":      string(result.Action),
		"details":     public,
		"tokens_used": tokensUsed,
		"timestamp":   p.now().Format(time.RFC3339),
	})
}

// RunnableBots lists the ids the scheduler should tick. Paused bots are
// included; the pipeline records the skip itself.
func (p *Pipeline) RunnableBots(ctx context.Context) ([]string, error) {
	bots, err := p.store.ListBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	ids := make([]string, 0, len(bots))
	for _, b := range bots {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// CompressAll runs cold compression for every bot regardless of warm
// memory size. Used by the weekly maintenance job.
func (p *Pipeline) CompressAll(ctx context.Context) error {
	bots, err := p.store.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	var firstErr error
	for _, b := range bots {
		if err := p.memory.Compress(ctx, b.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("weekly compression failed", zap.String("bot_id", b.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.metrics.CompressionRuns.Inc()
	}
	return firstErr
}
