package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/store"
)

const compressionPrompt = `Summarize these bot memories into a concise paragraph.
Preserve key facts, important relationships, and significant events.
Keep the summary under 500 words.

Facts:
%s

Memories:
%s

Relationships:
%s

Return ONLY a summary paragraph, no JSON or formatting.`

// MaybeCompress runs compression when warm memory outgrew its thresholds.
func (s *Service) MaybeCompress(ctx context.Context, botID string) error {
	memory, err := s.store.GetWarmMemory(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load warm memory: %w", err)
	}
	if len(memory.Facts) <= maxFacts && len(memory.Memories) <= maxMemories {
		return nil
	}
	s.logger.Info("compressing warm memory",
		zap.String("bot_id", botID),
		zap.Int("facts", len(memory.Facts)),
		zap.Int("memories", len(memory.Memories)))
	return s.Compress(ctx, botID)
}

// Compress moves facts and memories older than the cutoff into an immutable
// cold summary and prunes them from warm memory. Items without a parseable
// date never age out. A no-op when nothing is old enough.
func (s *Service) Compress(ctx context.Context, botID string) error {
	memory, err := s.store.GetWarmMemory(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load warm memory: %w", err)
	}

	today := s.now().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -compressCutoffDays)

	var oldFacts, keptFacts []store.Fact
	for _, fact := range memory.Facts {
		if dateBefore(fact.Date, cutoff) {
			oldFacts = append(oldFacts, fact)
		} else {
			keptFacts = append(keptFacts, fact)
		}
	}
	var oldMemories, keptMemories []store.Memory
	for _, item := range memory.Memories {
		if dateBefore(item.Date, cutoff) {
			oldMemories = append(oldMemories, item)
		} else {
			keptMemories = append(keptMemories, item)
		}
	}
	if len(oldFacts) == 0 && len(oldMemories) == 0 {
		return nil
	}

	summary := s.summarize(ctx, oldFacts, oldMemories, memory.Relationships)

	keyRels := make([]store.KeyRelationship, 0, len(memory.Relationships))
	for _, rel := range memory.Relationships {
		keyRels = append(keyRels, store.KeyRelationship{Bot: rel.Bot, Sentiment: rel.Sentiment})
	}

	cold := store.ColdMemory{
		BotID:              botID,
		PeriodStart:        oldestDate(oldFacts, oldMemories, today),
		PeriodEnd:          today,
		Summary:            summary,
		KeyRelationships:   keyRels,
		FactsCompressed:    len(oldFacts),
		MemoriesCompressed: len(oldMemories),
		CreatedAt:          s.now(),
	}
	if err := s.store.AppendColdMemory(ctx, &cold); err != nil {
		return fmt.Errorf("append cold memory: %w", err)
	}

	memory.Facts = keptFacts
	memory.Memories = keptMemories
	memory.UpdatedAt = s.now()
	if err := s.store.SaveWarmMemory(ctx, memory); err != nil {
		return fmt.Errorf("prune warm memory: %w", err)
	}

	s.logger.Info("cold compression complete",
		zap.String("bot_id", botID),
		zap.Int("facts_compressed", len(oldFacts)),
		zap.Int("memories_compressed", len(oldMemories)))
	return nil
}

// summarize asks the model for a summary; on failure it degrades to a
// plain concatenation of up to 10 old facts.
func (s *Service) summarize(ctx context.Context, oldFacts []store.Fact, oldMemories []store.Memory, relationships []store.Relationship) string {
	factLines := make([]string, 0, len(oldFacts))
	for _, fact := range oldFacts {
		factLines = append(factLines, "- "+fact.Fact)
	}
	memoryLines := make([]string, 0, len(oldMemories))
	for _, item := range oldMemories {
		memoryLines = append(memoryLines, "- "+item.Summary)
	}
	relLines := make([]string, 0, len(relationships))
	for _, rel := range relationships {
		relLines = append(relLines, fmt.Sprintf("- %s: %s", rel.Bot, rel.Sentiment))
	}

	prompt := fmt.Sprintf(compressionPrompt,
		orNone(factLines), orNone(memoryLines), orNone(relLines))

	resp, err := s.client.Think(ctx, llm.Request{
		Prompt:      prompt,
		Model:       compressionModel,
		Temperature: 0.3,
		MaxTokens:   compressionMaxToken,
	})
	if err != nil {
		s.logger.Warn("compression summarization failed, falling back", zap.Error(err))
		parts := make([]string, 0, 10)
		for i, fact := range oldFacts {
			if i >= 10 {
				break
			}
			parts = append(parts, fact.Fact)
		}
		return "Key facts: " + strings.Join(parts, "; ")
	}
	return strings.TrimSpace(resp.Content)
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

// dateBefore reports whether a YYYY-MM-DD date string parses and falls
// before the cutoff. Unparseable or empty dates report false.
func dateBefore(date string, cutoff time.Time) bool {
	if date == "" {
		return false
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	return parsed.Before(cutoff)
}

func oldestDate(facts []store.Fact, memories []store.Memory, fallback time.Time) time.Time {
	oldest := fallback
	consider := func(date string) {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return
		}
		if parsed.Before(oldest) {
			oldest = parsed
		}
	}
	for _, fact := range facts {
		consider(fact.Date)
	}
	for _, item := range memories {
		consider(item.Date)
	}
	return oldest
}
