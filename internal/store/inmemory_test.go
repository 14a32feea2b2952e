package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedBot(t *testing.T, s *InMemoryStore, id string) {
	t.Helper()
	err := s.CreateBot(context.Background(), Bot{
		ID:        id,
		Name:      id,
		Config:    json.RawMessage(`{}`),
		Source:    "api",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestUpsertVoteReportsPriorValue(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	seedBot(t, s, "ava")

	old, existed, err := s.UpsertVote(ctx, Vote{
		VoterBotID: "ava", TargetType: "thread", TargetID: 7, Value: 1, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, existed)
	require.Equal(t, 0, old)

	old, existed, err = s.UpsertVote(ctx, Vote{
		VoterBotID: "ava", TargetType: "thread", TargetID: 7, Value: -1, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, 1, old)

	// A vote on a different target type is a distinct row.
	_, existed, err = s.UpsertVote(ctx, Vote{
		VoterBotID: "ava", TargetType: "reply", TargetID: 7, Value: 1, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.False(t, existed)
}

func TestAdjustReputationFloorsCounters(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	seedBot(t, s, "bram")

	require.NoError(t, s.AdjustReputation(ctx, "bram", -2, 0, -5))

	bot, err := s.GetBot(ctx, "bram")
	require.NoError(t, err)
	require.Equal(t, -2, bot.ReputationScore)
	require.Equal(t, 0, bot.DownvotesReceived)

	require.ErrorIs(t, s.AdjustReputation(ctx, "ghost", 1, 1, 0), ErrNotFound)
}

func TestWarmMemorySingleRowPerBot(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	seedBot(t, s, "cleo")

	_, err := s.GetWarmMemory(ctx, "cleo")
	require.ErrorIs(t, err, ErrNotFound)

	first := WarmMemory{
		BotID:     "cleo",
		Facts:     []Fact{{Fact: "go has generics", Date: "2026-08-01"}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveWarmMemory(ctx, first))

	second := first
	second.Facts = append(second.Facts, Fact{Fact: "pgx pools connections"})
	second.UpdatedAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.SaveWarmMemory(ctx, second))

	got, err := s.GetWarmMemory(ctx, "cleo")
	require.NoError(t, err)
	require.Len(t, got.Facts, 2)
	require.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestTokenUsageAccumulates(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	seedBot(t, s, "dex")

	require.NoError(t, s.AddTokenUsage(ctx, "dex", "2026-09-01", "anthropic", 1000, 500, 0.0105))
	require.NoError(t, s.AddTokenUsage(ctx, "dex", "2026-09-01", "anthropic", 200, 100, 0.0021))
	require.NoError(t, s.AddTokenUsage(ctx, "dex", "2026-09-02", "anthropic", 50, 50, 0.001))

	totals, err := s.UsageForDay(ctx, "dex", "2026-09-01")
	require.NoError(t, err)
	require.Equal(t, 1200, totals.InputTokens)
	require.Equal(t, 600, totals.OutputTokens)
	require.Equal(t, 1800, totals.TotalTokens)
	require.InDelta(t, 0.0126, totals.EstimatedCostUSD, 1e-9)

	empty, err := s.UsageForDay(ctx, "dex", "2026-08-31")
	require.NoError(t, err)
	require.Zero(t, empty.TotalTokens)
}

func TestPostActivityFilters(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	seedBot(t, s, "eko")

	base := time.Now().UTC()
	for i, action := range []string{"create_thread", "do_nothing", "reply", "vote", "reply"} {
		err := s.AppendActivity(ctx, &ActivityLog{
			BotID:      "eko",
			ActionType: action,
			Details:    map[string]any{"seq": i},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	posts, err := s.ListRecentPostActivity(ctx, "eko", 10)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	require.Equal(t, "reply", posts[0].ActionType)

	count, err := s.CountPostActivitySince(ctx, "eko", base.Add(90*time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestFlagLifecycle(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	flag := &ContentFlag{
		TargetType: "reply", TargetID: 3, FlagType: "low_quality",
		FlaggedBy: "auto_moderator", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AppendFlag(ctx, flag))
	require.NotZero(t, flag.ID)

	open, err := s.ListFlags(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, s.ResolveFlag(ctx, flag.ID))

	open, err = s.ListFlags(ctx, true, 10)
	require.NoError(t, err)
	require.Empty(t, open)

	all, err := s.ListFlags(ctx, false, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Resolved)
}

func TestParseBotConfigDefaults(t *testing.T) {
	cfg, err := ParseBotConfig(nil)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Leadership)
	require.Equal(t, 25, cfg.Aggression)
	require.Equal(t, defaultModel, cfg.Model)
	require.Equal(t, 0.8, cfg.Temperature)
	require.Equal(t, 1000, cfg.MaxTokens)

	cfg, err = ParseBotConfig(json.RawMessage(`{"leadership":0,"temperature":0,"model":"llama3","max_tokens":0}`))
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Leadership)
	require.Equal(t, 0.0, cfg.Temperature)
	require.Equal(t, "llama3", cfg.Model)
	require.Equal(t, 1000, cfg.MaxTokens)

	_, err = ParseBotConfig(json.RawMessage(`{bad`))
	require.Error(t, err)
}
