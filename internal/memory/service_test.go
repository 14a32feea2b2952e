package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/store"
)

// stubClient returns a fixed response or error and records prompts.
type stubClient struct {
	content string
	err     error
	prompts []string
}

func (c *stubClient) Think(_ context.Context, req llm.Request) (llm.Response, error) {
	c.prompts = append(c.prompts, req.Prompt)
	if c.err != nil {
		return llm.Response{}, c.err
	}
	return llm.Response{Content: c.content, Model: req.Model, InputTokens: 10, OutputTokens: 5}, nil
}

func (c *stubClient) Provider() string { return "stub" }

func newTestService(t *testing.T, client llm.Client) (*Service, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	if client == nil {
		client = &stubClient{content: "ok"}
	}
	svc := NewService(st, client, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }
	return svc, st
}

func TestMergeDeduplicatesFactsAndCaps(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Merge(ctx, "ada", Delta{Facts: []store.Fact{
		{Fact: "go has generics"},
		{Fact: "go has generics"},
		{Fact: "pgx pools connections"},
	}}))

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Facts, 2)

	// Push past the cap; only the newest 50 survive.
	bulk := make([]store.Fact, 60)
	for i := range bulk {
		bulk[i] = store.Fact{Fact: fmt.Sprintf("numbered fact %d", i)}
	}
	require.NoError(t, svc.Merge(ctx, "ada", Delta{Facts: bulk}))

	memory, err = st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Facts, 50)
	require.Equal(t, "numbered fact 59", memory.Facts[49].Fact)
}

func TestMergeRelationshipsPreservesCounters(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.RecordInteraction(ctx, "ada", "bram", "argued about raft"))
	require.NoError(t, svc.RecordInteraction(ctx, "ada", "bram", ""))

	// An extraction delta without counters must not clobber them.
	require.NoError(t, svc.Merge(ctx, "ada", Delta{Relationships: []store.Relationship{
		{Bot: "bram", Sentiment: "rival", Notes: "still arguing"},
	}}))

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Relationships, 1)
	rel := memory.Relationships[0]
	require.Equal(t, "rival", rel.Sentiment)
	require.Equal(t, "still arguing", rel.Notes)
	require.Equal(t, 2, rel.InteractionCount)
	require.Equal(t, "2026-09-01", rel.LastInteraction)
	require.Len(t, rel.History, 1)

	// An explicit incoming counter does overwrite.
	require.NoError(t, svc.Merge(ctx, "ada", Delta{Relationships: []store.Relationship{
		{Bot: "bram", InteractionCount: 9, LastInteraction: "2026-08-15"},
	}}))
	memory, err = st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, 9, memory.Relationships[0].InteractionCount)
	require.Equal(t, "2026-08-15", memory.Relationships[0].LastInteraction)
}

func TestMergeOpinionsOverwriteByTopic(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Merge(ctx, "ada", Delta{Opinions: []store.Opinion{
		{Topic: "tabs vs spaces", Stance: "tabs", Confidence: 0.6},
	}}))
	require.NoError(t, svc.Merge(ctx, "ada", Delta{Opinions: []store.Opinion{
		{Topic: "tabs vs spaces", Stance: "spaces", Confidence: 0.9},
		{Topic: "gofmt", Stance: "non-negotiable", Confidence: 1},
	}}))

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Opinions, 2)
	require.Equal(t, "spaces", memory.Opinions[0].Stance)
}

func TestMergeInterestsUnionCapped(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	interests := make([]string, 25)
	for i := range interests {
		interests[i] = fmt.Sprintf("topic-%d", i)
	}
	require.NoError(t, svc.Merge(ctx, "ada", Delta{Interests: interests}))
	require.NoError(t, svc.Merge(ctx, "ada", Delta{Interests: []string{"topic-0", "late-arrival"}}))

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Interests, 20)
}

func TestCompressMovesOldItems(t *testing.T) {
	client := &stubClient{content: "A busy month of consensus debates."}
	svc, st := newTestService(t, client)
	ctx := context.Background()

	require.NoError(t, st.SaveWarmMemory(ctx, store.WarmMemory{
		BotID: "ada",
		Facts: []store.Fact{
			{Fact: "ancient fact", Date: "2026-06-01"},
			{Fact: "fresh fact", Date: "2026-08-30"},
			{Fact: "undated fact"},
		},
		Memories: []store.Memory{
			{Summary: "old moment", Date: "2026-05-10"},
			{Summary: "recent moment", Date: "2026-08-31"},
		},
		Relationships: []store.Relationship{{Bot: "bram", Sentiment: "rival"}},
	}))

	require.NoError(t, svc.Compress(ctx, "ada"))

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Facts, 2) // fresh + undated stay
	require.Len(t, memory.Memories, 1)

	colds, err := st.ListColdMemories(ctx, "ada", 10)
	require.NoError(t, err)
	require.Len(t, colds, 1)
	cold := colds[0]
	require.Equal(t, "A busy month of consensus debates.", cold.Summary)
	require.Equal(t, 1, cold.FactsCompressed)
	require.Equal(t, 1, cold.MemoriesCompressed)
	require.Equal(t, "2026-05-10", cold.PeriodStart.Format("2006-01-02"))
	require.Equal(t, "2026-09-01", cold.PeriodEnd.Format("2006-01-02"))
	require.Equal(t, []store.KeyRelationship{{Bot: "bram", Sentiment: "rival"}}, cold.KeyRelationships)
}

func TestCompressNoOldItemsIsNoOp(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, st.SaveWarmMemory(ctx, store.WarmMemory{
		BotID: "ada",
		Facts: []store.Fact{{Fact: "fresh", Date: "2026-08-30"}, {Fact: "undated"}},
	}))
	require.NoError(t, svc.Compress(ctx, "ada"))

	colds, err := st.ListColdMemories(ctx, "ada", 10)
	require.NoError(t, err)
	require.Empty(t, colds)
}

func TestCompressFallsBackOnModelFailure(t *testing.T) {
	client := &stubClient{err: errors.New("model down")}
	svc, st := newTestService(t, client)
	ctx := context.Background()

	require.NoError(t, st.SaveWarmMemory(ctx, store.WarmMemory{
		BotID: "ada",
		Facts: []store.Fact{
			{Fact: "first old fact", Date: "2026-01-01"},
			{Fact: "second old fact", Date: "2026-01-02"},
		},
	}))
	require.NoError(t, svc.Compress(ctx, "ada"))

	colds, err := st.ListColdMemories(ctx, "ada", 10)
	require.NoError(t, err)
	require.Len(t, colds, 1)
	require.Equal(t, "Key facts: first old fact; second old fact", colds[0].Summary)
}

func TestMaybeCompressRespectsThresholds(t *testing.T) {
	client := &stubClient{content: "summary"}
	svc, st := newTestService(t, client)
	ctx := context.Background()

	facts := make([]store.Fact, 51)
	for i := range facts {
		facts[i] = store.Fact{Fact: fmt.Sprintf("fact %d", i), Date: "2026-01-01"}
	}
	require.NoError(t, st.SaveWarmMemory(ctx, store.WarmMemory{BotID: "ada", Facts: facts[:50]}))

	require.NoError(t, svc.MaybeCompress(ctx, "ada"))
	colds, err := st.ListColdMemories(ctx, "ada", 10)
	require.NoError(t, err)
	require.Empty(t, colds)

	require.NoError(t, st.SaveWarmMemory(ctx, store.WarmMemory{BotID: "ada", Facts: facts}))
	require.NoError(t, svc.MaybeCompress(ctx, "ada"))
	colds, err = st.ListColdMemories(ctx, "ada", 10)
	require.NoError(t, err)
	require.Len(t, colds, 1)
}

func TestExtractAndMerge(t *testing.T) {
	client := &stubClient{content: `Here is what I remember:
{"facts_learned": [{"fact": "bram likes paxos", "source": "observation", "date": "2026-09-01"}],
 "relationships": [{"bot": "bram", "sentiment": "curious", "notes": "sharp debater"}],
 "interests": ["consensus"], "opinions": [], "memories": []}`}
	svc, st := newTestService(t, client)
	ctx := context.Background()

	err := svc.ExtractAndMerge(ctx, "ada", "Ada", "reply", map[string]any{"thread_id": int64(4), "content": "…"})
	require.NoError(t, err)

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Facts, 1)
	require.Equal(t, "bram likes paxos", memory.Facts[0].Fact)
	require.Equal(t, []string{"consensus"}, memory.Interests)
	require.Len(t, memory.Relationships, 1)

	require.Len(t, client.prompts, 1)
	require.Contains(t, client.prompts[0], "Action taken: reply")
}

func TestExtractFallbackOnModelFailure(t *testing.T) {
	client := &stubClient{err: errors.New("model down")}
	svc, st := newTestService(t, client)
	ctx := context.Background()

	err := svc.ExtractAndMerge(ctx, "ada", "Ada", "reply", map[string]any{"thread_id": int64(4)})
	require.NoError(t, err)

	memory, err := st.GetWarmMemory(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, memory.Memories, 1)
	require.Equal(t, "Replied to thread #4", memory.Memories[0].Summary)

	// Votes have no local fallback; nothing is written.
	err = svc.ExtractAndMerge(ctx, "bram", "Bram", "vote", map[string]any{"target_id": int64(1)})
	require.NoError(t, err)
	_, err = st.GetWarmMemory(ctx, "bram")
	require.ErrorIs(t, err, store.ErrNotFound)
}
