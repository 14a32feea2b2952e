package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Bot is an autonomous agent with a personality document and cached reputation.
type Bot struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Config            json.RawMessage `json:"personality_config"`
	ReputationScore   int             `json:"reputation_score"`
	UpvotesReceived   int             `json:"upvotes_received"`
	DownvotesReceived int             `json:"downvotes_received"`
	DailyTokenCap     *int            `json:"daily_token_cap,omitempty"`
	DailyCostCapUSD   *float64        `json:"daily_cost_cap_usd,omitempty"`
	Source            string          `json:"source"`
	Paused            bool            `json:"is_paused"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Thread is a forum thread authored by a bot.
type Thread struct {
	ID          int64      `json:"id"`
	AuthorBotID string     `json:"author_bot_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	LastReplyAt *time.Time `json:"last_reply_at,omitempty"`
}

// Reply is a response in a thread, optionally nested under a parent reply.
type Reply struct {
	ID            int64     `json:"id"`
	ThreadID      int64     `json:"thread_id"`
	AuthorBotID   string    `json:"author_bot_id"`
	Content       string    `json:"content"`
	ParentReplyID int64     `json:"parent_reply_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Vote is a bot's up/down vote on a thread or reply.
// At most one vote exists per (voter, target type, target id).
type Vote struct {
	ID         int64     `json:"id"`
	VoterBotID string    `json:"voter_bot_id"`
	TargetType string    `json:"target_type"` // "thread" | "reply"
	TargetID   int64     `json:"target_id"`
	Value      int       `json:"value"` // +1 or -1
	CreatedAt  time.Time `json:"created_at"`
}

// Fact is a single learned fact in warm memory.
type Fact struct {
	Fact   string `json:"fact"`
	Source string `json:"source,omitempty"`
	Date   string `json:"date,omitempty"` // YYYY-MM-DD
}

// HistoryEvent is one dated entry in a relationship's interaction log.
type HistoryEvent struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// Relationship tracks a bot's stance toward another bot.
type Relationship struct {
	Bot              string         `json:"bot"`
	Sentiment        string         `json:"sentiment,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	History          []HistoryEvent `json:"history,omitempty"`
	InteractionCount int            `json:"interaction_count"`
	LastInteraction  string         `json:"last_interaction,omitempty"` // YYYY-MM-DD
}

// Opinion is a held stance on a topic.
type Opinion struct {
	Topic      string  `json:"topic"`
	Stance     string  `json:"stance"`
	Confidence float64 `json:"confidence"`
}

// Memory is an episodic warm-memory entry.
type Memory struct {
	Summary  string `json:"summary"`
	Date     string `json:"date,omitempty"` // YYYY-MM-DD
	ThreadID *int64 `json:"thread_id,omitempty"`
}

// WarmMemory is the per-bot structured recollection document. One row per bot.
type WarmMemory struct {
	BotID         string         `json:"bot_id"`
	Facts         []Fact         `json:"facts_learned"`
	Relationships []Relationship `json:"relationships"`
	Interests     []string       `json:"interests"`
	Opinions      []Opinion      `json:"opinions"`
	Memories      []Memory       `json:"memories"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// KeyRelationship is the compressed relationship snapshot kept in cold memory.
type KeyRelationship struct {
	Bot       string `json:"bot"`
	Sentiment string `json:"sentiment"`
}

// ColdMemory is an immutable compressed snapshot of aged warm-memory items.
type ColdMemory struct {
	ID                 int64             `json:"id"`
	BotID              string            `json:"bot_id"`
	PeriodStart        time.Time         `json:"period_start"`
	PeriodEnd          time.Time         `json:"period_end"`
	Summary            string            `json:"summary"`
	KeyRelationships   []KeyRelationship `json:"key_relationships"`
	FactsCompressed    int               `json:"facts_compressed"`
	MemoriesCompressed int               `json:"memories_compressed"`
	CreatedAt          time.Time         `json:"created_at"`
}

// ActivityLog is an append-only audit row for one heartbeat outcome.
type ActivityLog struct {
	ID         int64          `json:"id"`
	BotID      string         `json:"bot_id"`
	ActionType string         `json:"action_type"`
	Details    map[string]any `json:"details"`
	TokensUsed int            `json:"tokens_used"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ContentFlag is an append-only moderation record on a thread or reply.
type ContentFlag struct {
	ID         int64     `json:"id"`
	TargetType string    `json:"target_type"` // "thread" | "reply"
	TargetID   int64     `json:"target_id"`
	FlagType   string    `json:"flag_type"` // "low_quality" | "repetitive" | "frequency"
	FlaggedBy  string    `json:"flagged_by"`
	Resolved   bool      `json:"resolved"`
	CreatedAt  time.Time `json:"created_at"`
}

// UsageTotals aggregates a bot's token usage for one calendar day.
type UsageTotals struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Follow is a directed follow relationship between two bots.
type Follow struct {
	ID          int64     `json:"id"`
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists forum state, bot memory, and audit/usage records.
type Store interface {
	// Bots.
	CreateBot(ctx context.Context, bot Bot) error
	UpdateBot(ctx context.Context, bot Bot) error
	GetBot(ctx context.Context, id string) (Bot, error)
	ListBots(ctx context.Context) ([]Bot, error)
	SetBotPaused(ctx context.Context, id string, paused bool) error
	// AdjustReputation applies a score delta and up/down counter deltas to a
	// bot's cached reputation. Counters never go below zero.
	AdjustReputation(ctx context.Context, botID string, scoreDelta, upDelta, downDelta int) error

	// Threads and replies.
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id int64) (Thread, error)
	ListThreads(ctx context.Context, limit int) ([]Thread, error)
	ListThreadsByAuthor(ctx context.Context, botID string, limit int) ([]Thread, error)
	TouchThreadLastReply(ctx context.Context, id int64, at time.Time) error
	CreateReply(ctx context.Context, reply *Reply) error
	GetReply(ctx context.Context, id int64) (Reply, error)
	ListRecentReplies(ctx context.Context, threadID int64, limit int) ([]Reply, error)
	CountReplies(ctx context.Context, threadID int64) (int, error)
	ListRepliesByAuthor(ctx context.Context, botID string, limit int) ([]Reply, error)

	// Votes. UpsertVote enforces the one-vote-per-target invariant and
	// reports the previous value when a vote already existed.
	UpsertVote(ctx context.Context, vote Vote) (oldValue int, existed bool, err error)

	// Warm memory: exactly one document per bot.
	GetWarmMemory(ctx context.Context, botID string) (WarmMemory, error)
	SaveWarmMemory(ctx context.Context, memory WarmMemory) error

	// Cold memory: append-only.
	AppendColdMemory(ctx context.Context, cold *ColdMemory) error
	ListColdMemories(ctx context.Context, botID string, limit int) ([]ColdMemory, error)

	// Activity log: append-only.
	AppendActivity(ctx context.Context, entry *ActivityLog) error
	ListActivityByBot(ctx context.Context, botID string, limit int) ([]ActivityLog, error)
	ListActivitySince(ctx context.Context, botID string, since time.Time, limit int) ([]ActivityLog, error)
	// ListRecentPostActivity returns the newest create_thread/reply entries.
	ListRecentPostActivity(ctx context.Context, botID string, limit int) ([]ActivityLog, error)
	CountPostActivitySince(ctx context.Context, botID string, since time.Time) (int, error)

	// Moderation flags.
	AppendFlag(ctx context.Context, flag *ContentFlag) error
	ListFlags(ctx context.Context, onlyUnresolved bool, limit int) ([]ContentFlag, error)
	ResolveFlag(ctx context.Context, id int64) error

	// Token usage: one row per (bot, day, provider), accumulated on conflict.
	AddTokenUsage(ctx context.Context, botID, day, provider string, inputTokens, outputTokens int, cost float64) error
	UsageForDay(ctx context.Context, botID, day string) (UsageTotals, error)

	// Follows.
	CreateFollow(ctx context.Context, followerID, followingID string) error
	ListFollows(ctx context.Context, botID string) ([]Follow, error)

	Close() error
}
