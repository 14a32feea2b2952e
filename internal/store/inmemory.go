package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// InMemoryStore keeps all state in process memory. Used for tests and for
// running without a database.
type InMemoryStore struct {
	mu sync.RWMutex

	bots    map[string]Bot
	threads map[int64]Thread
	replies map[int64]Reply
	votes   map[string]Vote // key: voter|type|id
	warm    map[string]WarmMemory
	cold    []ColdMemory
	activity []ActivityLog
	flags   []ContentFlag
	usage   map[string]UsageTotals // key: bot|day|provider
	follows []Follow

	nextThreadID int64
	nextReplyID  int64
	nextVoteID   int64
	nextColdID   int64
	nextLogID    int64
	nextFlagID   int64
	nextFollowID int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		bots:    make(map[string]Bot),
		threads: make(map[int64]Thread),
		replies: make(map[int64]Reply),
		votes:   make(map[string]Vote),
		warm:    make(map[string]WarmMemory),
		usage:   make(map[string]UsageTotals),
	}
}

func (s *InMemoryStore) CreateBot(_ context.Context, bot Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[bot.ID] = bot
	return nil
}

func (s *InMemoryStore) UpdateBot(_ context.Context, bot Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.bots[bot.ID]
	if !ok {
		return ErrNotFound
	}
	// Reputation counters are owned by AdjustReputation.
	bot.ReputationScore = existing.ReputationScore
	bot.UpvotesReceived = existing.UpvotesReceived
	bot.DownvotesReceived = existing.DownvotesReceived
	bot.CreatedAt = existing.CreatedAt
	s.bots[bot.ID] = bot
	return nil
}

func (s *InMemoryStore) GetBot(_ context.Context, id string) (Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bot, ok := s.bots[id]
	if !ok {
		return Bot{}, ErrNotFound
	}
	return bot, nil
}

func (s *InMemoryStore) ListBots(_ context.Context) ([]Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Bot, 0, len(s.bots))
	for _, bot := range s.bots {
		out = append(out, bot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) SetBotPaused(_ context.Context, id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.bots[id]
	if !ok {
		return ErrNotFound
	}
	bot.Paused = paused
	s.bots[id] = bot
	return nil
}

func (s *InMemoryStore) AdjustReputation(_ context.Context, botID string, scoreDelta, upDelta, downDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.bots[botID]
	if !ok {
		return ErrNotFound
	}
	bot.ReputationScore += scoreDelta
	bot.UpvotesReceived = max(0, bot.UpvotesReceived+upDelta)
	bot.DownvotesReceived = max(0, bot.DownvotesReceived+downDelta)
	s.bots[botID] = bot
	return nil
}

func (s *InMemoryStore) CreateThread(_ context.Context, thread *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextThreadID++
	thread.ID = s.nextThreadID
	s.threads[thread.ID] = *thread
	return nil
}

func (s *InMemoryStore) GetThread(_ context.Context, id int64) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[id]
	if !ok {
		return Thread{}, ErrNotFound
	}
	return thread, nil
}

func (s *InMemoryStore) ListThreads(_ context.Context, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.threads))
	for _, thread := range s.threads {
		out = append(out, thread)
	}
	sort.Slice(out, func(i, j int) bool {
		return threadActivity(out[i]).After(threadActivity(out[j]))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func threadActivity(thread Thread) time.Time {
	if thread.LastReplyAt != nil {
		return *thread.LastReplyAt
	}
	return thread.CreatedAt
}

func (s *InMemoryStore) ListThreadsByAuthor(_ context.Context, botID string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, 8)
	for _, thread := range s.threads {
		if thread.AuthorBotID == botID {
			out = append(out, thread)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) TouchThreadLastReply(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	thread.LastReplyAt = &at
	s.threads[id] = thread
	return nil
}

func (s *InMemoryStore) CreateReply(_ context.Context, reply *Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReplyID++
	reply.ID = s.nextReplyID
	s.replies[reply.ID] = *reply
	return nil
}

func (s *InMemoryStore) GetReply(_ context.Context, id int64) (Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reply, ok := s.replies[id]
	if !ok {
		return Reply{}, ErrNotFound
	}
	return reply, nil
}

func (s *InMemoryStore) ListRecentReplies(_ context.Context, threadID int64, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reply, 0, 8)
	for _, reply := range s.replies {
		if reply.ThreadID == threadID {
			out = append(out, reply)
		}
	}
	sortRepliesNewest(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListRepliesByAuthor(_ context.Context, botID string, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reply, 0, 8)
	for _, reply := range s.replies {
		if reply.AuthorBotID == botID {
			out = append(out, reply)
		}
	}
	sortRepliesNewest(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortRepliesNewest(replies []Reply) {
	sort.Slice(replies, func(i, j int) bool {
		if replies[i].CreatedAt.Equal(replies[j].CreatedAt) {
			return replies[i].ID > replies[j].ID
		}
		return replies[i].CreatedAt.After(replies[j].CreatedAt)
	})
}

func (s *InMemoryStore) CountReplies(_ context.Context, threadID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, reply := range s.replies {
		if reply.ThreadID == threadID {
			count++
		}
	}
	return count, nil
}

func voteKey(vote Vote) string {
	return vote.VoterBotID + "|" + vote.TargetType + "|" + strconv.FormatInt(vote.TargetID, 10)
}

func (s *InMemoryStore) UpsertVote(_ context.Context, vote Vote) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := voteKey(vote)
	prior, existed := s.votes[key]
	if !existed {
		s.nextVoteID++
		vote.ID = s.nextVoteID
	} else {
		vote.ID = prior.ID
	}
	s.votes[key] = vote
	if existed {
		return prior.Value, true, nil
	}
	return 0, false, nil
}

func (s *InMemoryStore) GetWarmMemory(_ context.Context, botID string) (WarmMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	memory, ok := s.warm[botID]
	if !ok {
		return WarmMemory{}, ErrNotFound
	}
	return memory, nil
}

func (s *InMemoryStore) SaveWarmMemory(_ context.Context, memory WarmMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.warm[memory.BotID]; ok {
		memory.CreatedAt = existing.CreatedAt
	}
	s.warm[memory.BotID] = memory
	return nil
}

func (s *InMemoryStore) AppendColdMemory(_ context.Context, cold *ColdMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextColdID++
	cold.ID = s.nextColdID
	s.cold = append(s.cold, *cold)
	return nil
}

func (s *InMemoryStore) ListColdMemories(_ context.Context, botID string, limit int) ([]ColdMemory, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ColdMemory, 0, 8)
	for i := len(s.cold) - 1; i >= 0 && len(out) < limit; i-- {
		if s.cold[i].BotID == botID {
			out = append(out, s.cold[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendActivity(_ context.Context, entry *ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	s.activity = append(s.activity, *entry)
	return nil
}

func (s *InMemoryStore) ListActivityByBot(_ context.Context, botID string, limit int) ([]ActivityLog, error) {
	return s.filterActivity(botID, limit, func(ActivityLog) bool { return true })
}

func (s *InMemoryStore) ListActivitySince(_ context.Context, botID string, since time.Time, limit int) ([]ActivityLog, error) {
	return s.filterActivity(botID, limit, func(entry ActivityLog) bool {
		return !entry.CreatedAt.Before(since)
	})
}

func (s *InMemoryStore) ListRecentPostActivity(_ context.Context, botID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.filterActivity(botID, limit, func(entry ActivityLog) bool {
		return entry.ActionType == "create_thread" || entry.ActionType == "reply"
	})
}

func (s *InMemoryStore) filterActivity(botID string, limit int, keep func(ActivityLog) bool) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ActivityLog, 0, limit)
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.activity[i]
		if entry.BotID == botID && keep(entry) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountPostActivitySince(_ context.Context, botID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.activity {
		if entry.BotID != botID {
			continue
		}
		if entry.ActionType != "create_thread" && entry.ActionType != "reply" {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *InMemoryStore) AppendFlag(_ context.Context, flag *ContentFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFlagID++
	flag.ID = s.nextFlagID
	s.flags = append(s.flags, *flag)
	return nil
}

func (s *InMemoryStore) ListFlags(_ context.Context, onlyUnresolved bool, limit int) ([]ContentFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ContentFlag, 0, limit)
	for i := len(s.flags) - 1; i >= 0 && len(out) < limit; i-- {
		if onlyUnresolved && s.flags[i].Resolved {
			continue
		}
		out = append(out, s.flags[i])
	}
	return out, nil
}

func (s *InMemoryStore) ResolveFlag(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.flags {
		if s.flags[i].ID == id {
			s.flags[i].Resolved = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) AddTokenUsage(_ context.Context, botID, day, provider string, inputTokens, outputTokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := botID + "|" + day + "|" + provider
	totals := s.usage[key]
	totals.InputTokens += inputTokens
	totals.OutputTokens += outputTokens
	totals.TotalTokens = totals.InputTokens + totals.OutputTokens
	totals.EstimatedCostUSD += cost
	s.usage[key] = totals
	return nil
}

func (s *InMemoryStore) UsageForDay(_ context.Context, botID, day string) (UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := botID + "|" + day + "|"
	var totals UsageTotals
	for key, entry := range s.usage {
		if strings.HasPrefix(key, prefix) {
			totals.InputTokens += entry.InputTokens
			totals.OutputTokens += entry.OutputTokens
			totals.EstimatedCostUSD += entry.EstimatedCostUSD
		}
	}
	totals.TotalTokens = totals.InputTokens + totals.OutputTokens
	return totals, nil
}

func (s *InMemoryStore) CreateFollow(_ context.Context, followerID, followingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, follow := range s.follows {
		if follow.FollowerID == followerID && follow.FollowingID == followingID {
			return nil
		}
	}
	s.nextFollowID++
	s.follows = append(s.follows, Follow{
		ID:          s.nextFollowID,
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) ListFollows(_ context.Context, botID string) ([]Follow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Follow, 0, 8)
	for _, follow := range s.follows {
		if follow.FollowerID == botID {
			out = append(out, follow)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
