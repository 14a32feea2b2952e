// Package memory implements the tiered bot memory: a warm structured
// document merged on every extraction, and cold compressed summaries for
// aged items.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/store"
)

const (
	maxFacts            = 50
	maxMemories         = 30
	maxInterests        = 20
	maxHistory          = 20
	compressCutoffDays  = 30
	compressionModel    = "claude-haiku-3-5-20241022"
	compressionMaxToken = 600
)

// Service owns warm-memory merging, interaction recording, and cold
// compression for all bots.
type Service struct {
	store  store.Store
	client llm.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewService(st store.Store, client llm.Client, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		client: client,
		logger: logger.Named("memory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Delta is a batch of new observations to fold into warm memory. Field
// names line up with the extraction model's JSON output.
type Delta struct {
	Facts         []store.Fact         `json:"facts_learned"`
	Relationships []store.Relationship `json:"relationships"`
	Interests     []string             `json:"interests"`
	Opinions      []store.Opinion      `json:"opinions"`
	Memories      []store.Memory       `json:"memories"`
}

// Empty reports whether the delta carries nothing to merge.
func (d Delta) Empty() bool {
	return len(d.Facts) == 0 && len(d.Relationships) == 0 && len(d.Interests) == 0 &&
		len(d.Opinions) == 0 && len(d.Memories) == 0
}

func (s *Service) getOrCreate(ctx context.Context, botID string) (store.WarmMemory, error) {
	memory, err := s.store.GetWarmMemory(ctx, botID)
	if err == nil {
		return memory, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.WarmMemory{}, fmt.Errorf("load warm memory: %w", err)
	}
	now := s.now()
	memory = store.WarmMemory{BotID: botID, CreatedAt: now, UpdatedAt: now}
	if err := s.store.SaveWarmMemory(ctx, memory); err != nil {
		return store.WarmMemory{}, fmt.Errorf("create warm memory: %w", err)
	}
	s.logger.Info("created warm memory", zap.String("bot_id", botID))
	return memory, nil
}

// Merge folds a delta into the bot's warm memory, deduplicating facts by
// text, merging relationships by bot id, unioning interests, replacing
// opinions by topic, and appending memories, each under its cap.
func (s *Service) Merge(ctx context.Context, botID string, delta Delta) error {
	if delta.Empty() {
		return nil
	}
	memory, err := s.getOrCreate(ctx, botID)
	if err != nil {
		return err
	}

	if len(delta.Facts) > 0 {
		seen := make(map[string]struct{}, len(memory.Facts))
		for _, fact := range memory.Facts {
			seen[fact.Fact] = struct{}{}
		}
		for _, fact := range delta.Facts {
			if _, dup := seen[fact.Fact]; !dup {
				memory.Facts = append(memory.Facts, fact)
				seen[fact.Fact] = struct{}{}
			}
		}
		memory.Facts = keepLast(memory.Facts, maxFacts)
	}

	if len(delta.Relationships) > 0 {
		memory.Relationships = mergeRelationships(memory.Relationships, delta.Relationships)
	}

	if len(delta.Interests) > 0 {
		seen := make(map[string]struct{}, len(memory.Interests))
		for _, interest := range memory.Interests {
			seen[interest] = struct{}{}
		}
		for _, interest := range delta.Interests {
			if _, dup := seen[interest]; !dup {
				memory.Interests = append(memory.Interests, interest)
				seen[interest] = struct{}{}
			}
		}
		if len(memory.Interests) > maxInterests {
			memory.Interests = memory.Interests[:maxInterests]
		}
	}

	if len(delta.Opinions) > 0 {
		memory.Opinions = mergeOpinions(memory.Opinions, delta.Opinions)
	}

	if len(delta.Memories) > 0 {
		memory.Memories = keepLast(append(memory.Memories, delta.Memories...), maxMemories)
	}

	memory.UpdatedAt = s.now()
	if err := s.store.SaveWarmMemory(ctx, memory); err != nil {
		return fmt.Errorf("save warm memory: %w", err)
	}
	s.logger.Debug("merged warm memory", zap.String("bot_id", botID))
	return nil
}

// mergeRelationships merges by other-bot id. Incoming scalar fields
// overwrite when supplied; history concatenates under its cap; the
// interaction counters survive unless the incoming record carries them.
func mergeRelationships(existing, incoming []store.Relationship) []store.Relationship {
	index := make(map[string]int, len(existing))
	for i, rel := range existing {
		index[rel.Bot] = i
	}
	for _, rel := range incoming {
		i, ok := index[rel.Bot]
		if !ok {
			index[rel.Bot] = len(existing)
			existing = append(existing, rel)
			continue
		}
		current := existing[i]
		if rel.Sentiment != "" {
			current.Sentiment = rel.Sentiment
		}
		if rel.Notes != "" {
			current.Notes = rel.Notes
		}
		if len(rel.History) > 0 {
			current.History = keepLast(append(current.History, rel.History...), maxHistory)
		}
		if rel.InteractionCount != 0 {
			current.InteractionCount = rel.InteractionCount
		}
		if rel.LastInteraction != "" {
			current.LastInteraction = rel.LastInteraction
		}
		existing[i] = current
	}
	return existing
}

func mergeOpinions(existing, incoming []store.Opinion) []store.Opinion {
	index := make(map[string]int, len(existing))
	for i, op := range existing {
		index[op.Topic] = i
	}
	for _, op := range incoming {
		if i, ok := index[op.Topic]; ok {
			existing[i] = op
			continue
		}
		index[op.Topic] = len(existing)
		existing = append(existing, op)
	}
	return existing
}

func keepLast[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}

// RecordInteraction bumps the relationship counters for one other bot,
// creating a neutral relationship record if none exists.
func (s *Service) RecordInteraction(ctx context.Context, botID, otherBotID, event string) error {
	memory, err := s.getOrCreate(ctx, botID)
	if err != nil {
		return err
	}
	today := s.now().Format("2006-01-02")

	found := false
	for i, rel := range memory.Relationships {
		if rel.Bot != otherBotID {
			continue
		}
		rel.InteractionCount++
		rel.LastInteraction = today
		if event != "" {
			rel.History = keepLast(append(rel.History, store.HistoryEvent{Date: today, Event: event}), maxHistory)
		}
		memory.Relationships[i] = rel
		found = true
		break
	}
	if !found {
		rel := store.Relationship{
			Bot:              otherBotID,
			Sentiment:        "neutral",
			InteractionCount: 1,
			LastInteraction:  today,
		}
		if event != "" {
			rel.History = []store.HistoryEvent{{Date: today, Event: event}}
		}
		memory.Relationships = append(memory.Relationships, rel)
	}

	memory.UpdatedAt = s.now()
	if err := s.store.SaveWarmMemory(ctx, memory); err != nil {
		return fmt.Errorf("save warm memory: %w", err)
	}
	return nil
}
