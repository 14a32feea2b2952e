package engine

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/action"
	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/memory"
	"github.com/botastrophic/botastrophic/internal/observability"
	"github.com/botastrophic/botastrophic/internal/prompt"
	"github.com/botastrophic/botastrophic/internal/search"
	"github.com/botastrophic/botastrophic/internal/store"
	"github.com/botastrophic/botastrophic/internal/usage"
)

type scriptedClient struct {
	content string
	err     error
	calls   int
}

func (c *scriptedClient) Think(_ context.Context, _ llm.Request) (llm.Response, error) {
	c.calls++
	if c.err != nil {
		return llm.Response{}, c.err
	}
	return llm.Response{
		Content:      c.content,
		Model:        "mock",
		InputTokens:  100,
		OutputTokens: 40,
	}, nil
}

func (c *scriptedClient) Provider() string { return "mock" }

type stubSearcher struct {
	results []search.Result
	err     error
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ int) ([]search.Result, error) {
	return s.results, s.err
}

type capturingHub struct {
	events []map[string]any
}

func (h *capturingHub) Broadcast(event map[string]any) {
	h.events = append(h.events, event)
}

type fixture struct {
	store    store.Store
	pipeline *Pipeline
	client   *scriptedClient
	searcher *stubSearcher
	hub      *capturingHub
}

func newFixture(t *testing.T, modelResponse string) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	logger := zap.NewNop()
	client := &scriptedClient{content: modelResponse}
	searcher := &stubSearcher{}
	hub := &capturingHub{}
	metrics := observability.NewMetrics("botastrophic")
	mem := memory.NewService(st, client, logger)
	governor := usage.NewGovernor(st, logger, 100_000, 1.00)
	executor := NewExecutor(st, mem, searcher, logger)
	moderator := NewModerator(st, metrics, logger)
	builder := prompt.NewBuilder(st)
	pipeline := NewPipeline(st, builder, client, governor, executor, moderator, mem, hub, metrics, logger)
	return &fixture{store: st, pipeline: pipeline, client: client, searcher: searcher, hub: hub}
}

func seedBot(t *testing.T, st store.Store, id, name string) store.Bot {
	t.Helper()
	bot := store.Bot{
		ID:     id,
		Name:   name,
		Config: []byte(`{"personality": "curious", "interests": ["databases"]}`),
	}
	require.NoError(t, st.CreateBot(context.Background(), bot))
	return bot
}

func TestHeartbeatPausedBotSkipsModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, `{"action": "do_nothing", "reason": "nothing interesting"}`)
	bot := seedBot(t, f.store, "bot-1", "Ada")
	require.NoError(t, f.store.SetBotPaused(ctx, bot.ID, true))

	require.NoError(t, f.pipeline.Heartbeat(ctx, bot.ID))

	require.Zero(t, f.client.calls)
	logs, err := f.store.ListActivityByBot(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "do_nothing", logs[0].ActionType)
	require.Equal(t, "Bot is paused by admin", logs[0].Details["reason"])
	require.Equal(t, true, logs[0].Details["paused"])
	require.Empty(t, f.hub.events)

	totals, err := f.store.UsageForDay(ctx, bot.ID, time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	require.Zero(t, totals.TotalTokens)
}

func TestHeartbeatCappedBotSkipsModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, `{"action": "do_nothing", "reason": "quiet day"}`)
	bot := seedBot(t, f.store, "bot-1", "Ada")
	today := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, f.store.AddTokenUsage(ctx, bot.ID, today, "anthropic", 60_000, 40_000, 0.78))

	require.NoError(t, f.pipeline.Heartbeat(ctx, bot.ID))

	require.Zero(t, f.client.calls)
	logs, err := f.store.ListActivityByBot(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "do_nothing", logs[0].ActionType)
	require.Equal(t, true, logs[0].Details["cap_exceeded"])
	require.Equal(t, "Daily token cap reached (100000/100000)", logs[0].Details["reason"])
}

func TestHeartbeatModelFailureLeavesNoActivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	f.client.err = errors.New("overloaded")
	bot := seedBot(t, f.store, "bot-1", "Ada")

	err := f.pipeline.Heartbeat(ctx, bot.ID)
	require.Error(t, err)

	logs, err := f.store.ListActivityByBot(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Empty(t, logs)
	require.Empty(t, f.hub.events)
}

func TestHeartbeatCreateThreadEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, `{"action": "create_thread", "title": "Consensus protocols in practice", "content": "Raft is easier to reason about than Paxos because the leader owns the log.", "tags": ["distributed-systems"]}`)
	bot := seedBot(t, f.store, "bot-1", "Ada")

	require.NoError(t, f.pipeline.Heartbeat(ctx, bot.ID))
	// One decision call plus one memory-extraction call.
	require.Equal(t, 2, f.client.calls)

	threads, err := f.store.ListThreads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, "Consensus protocols in practice", threads[0].Title)
	require.Equal(t, bot.ID, threads[0].AuthorBotID)

	logs, err := f.store.ListActivityByBot(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "create_thread", logs[0].ActionType)
	require.Equal(t, 140, logs[0].TokensUsed)
	require.Contains(t, logs[0].Details, "raw_response")
	require.Equal(t, 0, logs[0].Details["reputation_score"])

	totals, err := f.store.UsageForDay(ctx, bot.ID, time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	require.Equal(t, 140, totals.TotalTokens)

	require.Len(t, f.hub.events, 1)
	event := f.hub.events[0]
	require.Equal(t, "heartbeat_complete", event["type"])
	require.Equal(t, "Ada", event["bot_name"])
	require.Equal(t, "create_thread", event["action"])
	details, ok := event["details"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, details, "raw_response")
}

func TestHeartbeatVoteAdjustsReputation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, `{"action": "vote", "thread_id": 1, "value": 1, "reason": "solid writeup"}`)
	voter := seedBot(t, f.store, "bot-1", "Ada")
	author := seedBot(t, f.store, "bot-2", "Bram")
	thread := store.Thread{AuthorBotID: author.ID, Title: "Log compaction tradeoffs", Content: "Snapshots versus segment merges.", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	require.NoError(t, f.pipeline.Heartbeat(ctx, voter.ID))

	got, err := f.store.GetBot(ctx, author.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.ReputationScore)
	require.Equal(t, 1, got.UpvotesReceived)
	require.Equal(t, 0, got.DownvotesReceived)

	// Same vote again changes nothing.
	require.NoError(t, f.pipeline.Heartbeat(ctx, voter.ID))
	got, err = f.store.GetBot(ctx, author.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.ReputationScore)
	require.Equal(t, 1, got.UpvotesReceived)
}

func TestExecuteVoteFlipRewritesCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	voter := seedBot(t, f.store, "bot-1", "Ada")
	author := seedBot(t, f.store, "bot-2", "Bram")
	thread := store.Thread{AuthorBotID: author.ID, Title: "Write amplification", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	exec := f.pipeline.executor
	result, err := exec.Execute(ctx, voter, action.Vote{ThreadID: thread.ID, Value: 1})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.Updated)

	result, err = exec.Execute(ctx, voter, action.Vote{ThreadID: thread.ID, Value: -1})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.Updated)
	require.Equal(t, -1, result.Value)

	got, err := f.store.GetBot(ctx, author.ID)
	require.NoError(t, err)
	require.Equal(t, -1, got.ReputationScore)
	require.Equal(t, 0, got.UpvotesReceived)
	require.Equal(t, 1, got.DownvotesReceived)
}

func TestExecuteVoteClampsValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	voter := seedBot(t, f.store, "bot-1", "Ada")
	author := seedBot(t, f.store, "bot-2", "Bram")
	thread := store.Thread{AuthorBotID: author.ID, Title: "Vector clocks", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	exec := f.pipeline.executor
	result, err := exec.Execute(ctx, voter, action.Vote{ThreadID: thread.ID, Value: 0})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, -1, result.Value)

	result, err = exec.Execute(ctx, voter, action.Vote{ThreadID: thread.ID, Value: 7})
	require.NoError(t, err)
	require.Equal(t, 1, result.Value)
}

func TestExecuteValidationFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	bot := seedBot(t, f.store, "bot-1", "Ada")
	exec := f.pipeline.executor

	result, err := exec.Execute(ctx, bot, action.Reply{Content: "orphan reply"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "No thread_id provided", result.Error)

	result, err = exec.Execute(ctx, bot, action.Vote{Value: 1})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "No target specified", result.Error)

	result, err = exec.Execute(ctx, bot, action.Reply{ThreadID: 999, Content: "into the void"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, "Thread not found", result.Error)

	replies, err := f.store.ListRecentReplies(ctx, 999, 10)
	require.NoError(t, err)
	require.Empty(t, replies)
}

func TestExecuteReplyRecordsInteraction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	bot := seedBot(t, f.store, "bot-1", "Ada")
	author := seedBot(t, f.store, "bot-2", "Bram")
	thread := store.Thread{AuthorBotID: author.ID, Title: "Gossip protocols and failure detection", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	result, err := f.pipeline.executor.Execute(ctx, bot, action.Reply{ThreadID: thread.ID, Content: "SWIM's suspicion mechanism cuts false positives a lot."})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, author.ID, result.OtherBotID)

	warm, err := f.store.GetWarmMemory(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, warm.Relationships, 1)
	require.Equal(t, author.ID, warm.Relationships[0].Bot)
	require.Equal(t, 1, warm.Relationships[0].InteractionCount)

	got, err := f.store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastReplyAt)
}

func TestHeartbeatWebSearchFoldsFacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, `{"action": "web_search", "query": "raft consensus", "reason": "verify a claim"}`)
	f.searcher.results = []search.Result{
		{Title: "Raft (algorithm)", URL: "https://en.wikipedia.org/wiki/Raft_(algorithm)", Extract: "Raft is a consensus algorithm designed as an alternative to Paxos."},
	}
	bot := seedBot(t, f.store, "bot-1", "Ada")

	require.NoError(t, f.pipeline.Heartbeat(ctx, bot.ID))

	warm, err := f.store.GetWarmMemory(ctx, bot.ID)
	require.NoError(t, err)
	require.Len(t, warm.Facts, 1)
	require.Equal(t, "wikipedia", warm.Facts[0].Source)
	require.Contains(t, warm.Facts[0].Fact, "Raft is a consensus algorithm")

	logs, err := f.store.ListActivityByBot(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "web_search", logs[0].ActionType)
	require.Equal(t, 1, logs[0].Details["result_count"])
}

func TestHeartbeatCompressesOversizedMemory(t *testing.T) {
	ctx := context.Background()
	// A web search triggers no extraction, so the compression check has to
	// run on its own after the memory steps.
	f := newFixture(t, `{"action": "web_search", "query": "raft consensus", "reason": "curiosity"}`)
	bot := seedBot(t, f.store, "bot-1", "Ada")

	facts := make([]store.Fact, 51)
	for i := range facts {
		facts[i] = store.Fact{Fact: "An aged observation about consensus protocols.", Date: "2024-01-01"}
	}
	require.NoError(t, f.store.SaveWarmMemory(ctx, store.WarmMemory{BotID: bot.ID, Facts: facts}))

	require.NoError(t, f.pipeline.Heartbeat(ctx, bot.ID))

	cold, err := f.store.ListColdMemories(ctx, bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, cold, 1)
	require.Equal(t, 51, cold[0].FactsCompressed)

	warm, err := f.store.GetWarmMemory(ctx, bot.ID)
	require.NoError(t, err)
	require.Empty(t, warm.Facts)
}

func TestClipKeepsRuneBoundary(t *testing.T) {
	require.Equal(t, "héll", clip("héllo", 5))
	// Cutting inside the two-byte é backs up to the previous boundary.
	require.Equal(t, "h", clip("héllo", 2))
	require.True(t, utf8.ValidString(clip("日本語のテキスト", 10)))
	require.Equal(t, "short", clip("short", 10))
}

func TestModeratorFlagsShortPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	bot := seedBot(t, f.store, "bot-1", "Ada")
	thread := store.Thread{AuthorBotID: bot.ID, Title: "hi", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	mod := f.pipeline.moderator
	result := Result{Success: true, Action: action.KindCreateThread, ThreadID: thread.ID, Title: "hi"}
	require.NoError(t, mod.Review(ctx, bot.ID, result, "hi"))

	flags, err := f.store.ListFlags(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, "low_quality", flags[0].FlagType)
	require.Equal(t, "thread", flags[0].TargetType)
	require.Equal(t, "auto_moderator", flags[0].FlaggedBy)
}

func TestModeratorFlagsRepetitivePost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	bot := seedBot(t, f.store, "bot-1", "Ada")
	raw := "Distributed consensus requires quorum agreement before committing entries to the replicated log."

	require.NoError(t, f.store.AppendActivity(ctx, &store.ActivityLog{
		BotID:      bot.ID,
		ActionType: "create_thread",
		Details:    map[string]any{"raw_response": raw},
		CreatedAt:  time.Now().UTC().Add(-10 * time.Minute),
	}))

	thread := store.Thread{AuthorBotID: bot.ID, Title: "Consensus again", Content: raw, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	mod := f.pipeline.moderator
	result := Result{Success: true, Action: action.KindCreateThread, ThreadID: thread.ID, Title: thread.Title}
	require.NoError(t, mod.Review(ctx, bot.ID, result, raw))

	flags, err := f.store.ListFlags(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, "repetitive", flags[0].FlagType)
}

func TestModeratorFlagsHighFrequency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	bot := seedBot(t, f.store, "bot-1", "Ada")
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.AppendActivity(ctx, &store.ActivityLog{
			BotID:      bot.ID,
			ActionType: "reply",
			Details:    map[string]any{"raw_response": ""},
			CreatedAt:  time.Now().UTC().Add(-time.Duration(i+1) * time.Minute),
		}))
	}

	thread := store.Thread{AuthorBotID: bot.ID, Title: "Yet another thought about schedulers", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateThread(ctx, &thread))

	mod := f.pipeline.moderator
	result := Result{Success: true, Action: action.KindCreateThread, ThreadID: thread.ID, Title: thread.Title, Content: "A longer body that clears the minimum quality bar easily."}
	require.NoError(t, mod.Review(ctx, bot.ID, result, "A longer body that clears the minimum quality bar easily."))

	flags, err := f.store.ListFlags(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, "frequency", flags[0].FlagType)
}

func TestExecuteCreateThreadScrubsPII(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	bot := seedBot(t, f.store, "bot-1", "Ada")

	result, err := f.pipeline.executor.Execute(ctx, bot, action.CreateThread{
		Title:   "Contact info sharing",
		Content: "Reach the maintainer at admin@example.com for access.",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	thread, err := f.store.GetThread(ctx, result.ThreadID)
	require.NoError(t, err)
	require.Contains(t, thread.Content, "[REDACTED_EMAIL]")
	require.NotContains(t, thread.Content, "admin@example.com")
}

func TestJaccardOverlap(t *testing.T) {
	require.InDelta(t, 1.0, JaccardOverlap(
		"the raft protocol elects a leader",
		"raft protocol elects the leader",
	), 0.001)
	require.InDelta(t, 0.5, JaccardOverlap(
		"the cat sat on the mat",
		"a cat sat on a rug",
	), 0.001)
	require.Zero(t, JaccardOverlap("gossip failure detection", "vector clock ordering"))
	require.Zero(t, JaccardOverlap("", "anything at all here"))
	require.Less(t, JaccardOverlap(
		"leader election uses randomized timeouts",
		"leader election requires quorum votes counted",
	), 0.6)
}
