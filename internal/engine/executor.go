// Package engine runs the heartbeat decision pipeline: context building,
// the model call, action execution, moderation, and the bookkeeping around
// them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/action"
	"github.com/botastrophic/botastrophic/internal/memory"
	"github.com/botastrophic/botastrophic/internal/policy"
	"github.com/botastrophic/botastrophic/internal/search"
	"github.com/botastrophic/botastrophic/internal/store"
)

// Searcher is the outward-looking tool contract. An empty result list is a
// valid "no matches", distinct from a transport error.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]search.Result, error)
}

// Result is the structured outcome of executing one action. Validation
// failures come back with Success=false and Error set; no exception paths.
type Result struct {
	Success    bool
	Action     action.Kind
	ThreadID   int64
	ReplyID    int64
	Title      string
	Content    string
	TargetType string
	TargetID   int64
	Value      int
	Updated    bool
	OtherBotID string
	Query      string
	Results    []search.Result
	Reason     string
	Error      string
}

// Details flattens the result into the ActivityLog details shape.
func (r Result) Details() map[string]any {
	out := map[string]any{
		"success": r.Success,
		"action":  string(r.Action),
	}
	if r.ThreadID != 0 {
		out["thread_id"] = r.ThreadID
	}
	if r.ReplyID != 0 {
		out["reply_id"] = r.ReplyID
	}
	if r.Title != "" {
		out["title"] = r.Title
	}
	if r.Content != "" {
		out["content"] = r.Content
	}
	if r.TargetType != "" {
		out["target_type"] = r.TargetType
		out["target_id"] = r.TargetID
		out["value"] = r.Value
	}
	if r.Updated {
		out["updated"] = true
	}
	if r.OtherBotID != "" {
		out["other_bot_id"] = r.OtherBotID
	}
	if r.Query != "" {
		out["query"] = r.Query
	}
	if r.Results != nil {
		out["results"] = r.Results
		out["result_count"] = len(r.Results)
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// Executor applies a decided action to the forum.
type Executor struct {
	store    store.Store
	memory   *memory.Service
	searcher Searcher
	logger   *zap.Logger
	now      func() time.Time
}

func NewExecutor(st store.Store, mem *memory.Service, searcher Searcher, logger *zap.Logger) *Executor {
	return &Executor{
		store:    st,
		memory:   mem,
		searcher: searcher,
		logger:   logger.Named("executor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one action for a bot. Infrastructure errors return err;
// validation problems return a failed Result with no mutation.
func (e *Executor) Execute(ctx context.Context, bot store.Bot, act action.Action) (Result, error) {
	switch a := act.(type) {
	case action.CreateThread:
		return e.createThread(ctx, bot, a)
	case action.Reply:
		return e.reply(ctx, bot, a)
	case action.Vote:
		return e.vote(ctx, bot, a)
	case action.WebSearch:
		return e.webSearch(ctx, bot, a)
	case action.DoNothing:
		e.logger.Info("bot chose to do nothing", zap.String("bot_id", bot.ID), zap.String("reason", a.Reason))
		return Result{Success: true, Action: action.KindDoNothing, Reason: a.Reason}, nil
	default:
		return Result{}, fmt.Errorf("unhandled action kind %q", act.Kind())
	}
}

func (e *Executor) createThread(ctx context.Context, bot store.Bot, a action.CreateThread) (Result, error) {
	content, scrubbed := policy.ScrubPost(a.Content)
	if scrubbed {
		e.logger.Warn("scrubbed sensitive content from thread", zap.String("bot_id", bot.ID))
	}
	thread := store.Thread{
		AuthorBotID: bot.ID,
		Title:       a.Title,
		Content:     content,
		Tags:        a.Tags,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateThread(ctx, &thread); err != nil {
		return Result{}, fmt.Errorf("create thread: %w", err)
	}
	e.logger.Info("bot created thread", zap.String("bot_id", bot.ID), zap.String("title", thread.Title))
	return Result{
		Success:  true,
		Action:   action.KindCreateThread,
		ThreadID: thread.ID,
		Title:    thread.Title,
	}, nil
}

func (e *Executor) reply(ctx context.Context, bot store.Bot, a action.Reply) (Result, error) {
	if a.ThreadID == 0 {
		return Result{Action: action.KindReply, Error: "No thread_id provided"}, nil
	}
	thread, err := e.store.GetThread(ctx, a.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Action: action.KindReply, ThreadID: a.ThreadID, Error: "Thread not found"}, nil
		}
		return Result{}, fmt.Errorf("load thread: %w", err)
	}

	content, scrubbed := policy.ScrubPost(a.Content)
	if scrubbed {
		e.logger.Warn("scrubbed sensitive content from reply", zap.String("bot_id", bot.ID))
	}
	reply := store.Reply{
		ThreadID:      a.ThreadID,
		AuthorBotID:   bot.ID,
		Content:       content,
		ParentReplyID: a.ParentReplyID,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateReply(ctx, &reply); err != nil {
		return Result{}, fmt.Errorf("create reply: %w", err)
	}
	if err := e.store.TouchThreadLastReply(ctx, a.ThreadID, reply.CreatedAt); err != nil {
		e.logger.Warn("touch thread last reply failed", zap.Int64("thread_id", a.ThreadID), zap.Error(err))
	}

	result := Result{
		Success:  true,
		Action:   action.KindReply,
		ReplyID:  reply.ID,
		ThreadID: a.ThreadID,
		Content:  clip(content, 200),
	}

	// Interaction bookkeeping; never blocks the reply itself.
	if thread.AuthorBotID != bot.ID {
		event := fmt.Sprintf("Replied to thread %q", clip(thread.Title, 50))
		if err := e.memory.RecordInteraction(ctx, bot.ID, thread.AuthorBotID, event); err != nil {
			e.logger.Warn("record interaction failed", zap.String("bot_id", bot.ID), zap.Error(err))
		} else {
			result.OtherBotID = thread.AuthorBotID
		}
	}
	if a.ParentReplyID != 0 {
		parent, err := e.store.GetReply(ctx, a.ParentReplyID)
		if err == nil && parent.AuthorBotID != bot.ID {
			event := fmt.Sprintf("Replied to their comment in thread #%d", a.ThreadID)
			if err := e.memory.RecordInteraction(ctx, bot.ID, parent.AuthorBotID, event); err != nil {
				e.logger.Warn("record interaction failed", zap.String("bot_id", bot.ID), zap.Error(err))
			} else {
				result.OtherBotID = parent.AuthorBotID
			}
		}
	}

	e.logger.Info("bot replied", zap.String("bot_id", bot.ID), zap.Int64("thread_id", a.ThreadID))
	return result, nil
}

func (e *Executor) vote(ctx context.Context, bot store.Bot, a action.Vote) (Result, error) {
	var (
		targetType   string
		targetID     int64
		authorID     string
		authorDetail string
	)
	switch {
	case a.ThreadID != 0:
		targetType, targetID = "thread", a.ThreadID
		thread, err := e.store.GetThread(ctx, targetID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Result{Action: action.KindVote, Error: "Vote target not found"}, nil
			}
			return Result{}, fmt.Errorf("load vote target: %w", err)
		}
		authorID = thread.AuthorBotID
		authorDetail = fmt.Sprintf("their thread %q", clip(thread.Title, 50))
	case a.ReplyID != 0:
		targetType, targetID = "reply", a.ReplyID
		reply, err := e.store.GetReply(ctx, targetID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Result{Action: action.KindVote, Error: "Vote target not found"}, nil
			}
			return Result{}, fmt.Errorf("load vote target: %w", err)
		}
		authorID = reply.AuthorBotID
		authorDetail = fmt.Sprintf("their reply in thread #%d", reply.ThreadID)
	default:
		return Result{Action: action.KindVote, Error: "No target specified"}, nil
	}

	// Clamp to the two legal values; models drift.
	value := -1
	if a.Value > 0 {
		value = 1
	}

	oldValue, existed, err := e.store.UpsertVote(ctx, store.Vote{
		VoterBotID: bot.ID,
		TargetType: targetType,
		TargetID:   targetID,
		Value:      value,
		CreatedAt:  e.now(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("upsert vote: %w", err)
	}

	if !existed || oldValue != value {
		scoreDelta := value
		upDelta, downDelta := 0, 0
		if existed {
			scoreDelta = value - oldValue
			if oldValue > 0 {
				upDelta--
			} else if oldValue < 0 {
				downDelta--
			}
		}
		if value > 0 {
			upDelta++
		} else {
			downDelta++
		}
		if err := e.store.AdjustReputation(ctx, authorID, scoreDelta, upDelta, downDelta); err != nil {
			e.logger.Warn("adjust reputation failed", zap.String("author_id", authorID), zap.Error(err))
		}
	}

	result := Result{
		Success:    true,
		Action:     action.KindVote,
		TargetType: targetType,
		TargetID:   targetID,
		Value:      value,
		Updated:    existed,
	}

	if authorID != bot.ID {
		label := "Upvoted"
		if value < 0 {
			label = "Downvoted"
		}
		event := label + " " + authorDetail
		if err := e.memory.RecordInteraction(ctx, bot.ID, authorID, event); err != nil {
			e.logger.Warn("record interaction failed", zap.String("bot_id", bot.ID), zap.Error(err))
		} else {
			result.OtherBotID = authorID
		}
	}

	e.logger.Info("bot voted",
		zap.String("bot_id", bot.ID),
		zap.String("target_type", targetType),
		zap.Int64("target_id", targetID),
		zap.Int("value", value))
	return result, nil
}

func (e *Executor) webSearch(ctx context.Context, bot store.Bot, a action.WebSearch) (Result, error) {
	if a.Query == "" {
		return Result{Action: action.KindWebSearch, Error: "No query provided"}, nil
	}
	results, err := e.searcher.Search(ctx, a.Query, 3)
	if err != nil {
		e.logger.Warn("web search failed", zap.String("bot_id", bot.ID), zap.Error(err))
		return Result{Action: action.KindWebSearch, Query: a.Query, Error: err.Error()}, nil
	}
	e.logger.Info("bot searched",
		zap.String("bot_id", bot.ID),
		zap.String("query", a.Query),
		zap.Int("results", len(results)))
	return Result{
		Success: true,
		Action:  action.KindWebSearch,
		Query:   a.Query,
		Results: results,
	}, nil
}

// clip truncates s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
