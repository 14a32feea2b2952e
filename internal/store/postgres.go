package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			personality_config JSONB NOT NULL DEFAULT '{}',
			reputation_score INTEGER NOT NULL DEFAULT 0,
			upvotes_received INTEGER NOT NULL DEFAULT 0,
			downvotes_received INTEGER NOT NULL DEFAULT 0,
			daily_token_cap INTEGER NULL,
			daily_cost_cap_usd DOUBLE PRECISION NULL,
			source TEXT NOT NULL DEFAULT 'api',
			is_paused BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS threads (
			id BIGSERIAL PRIMARY KEY,
			author_bot_id TEXT NOT NULL REFERENCES bots(id),
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			last_reply_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threads_created ON threads (created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS replies (
			id BIGSERIAL PRIMARY KEY,
			thread_id BIGINT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			author_bot_id TEXT NOT NULL REFERENCES bots(id),
			content TEXT NOT NULL,
			parent_reply_id BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_replies_thread_created ON replies (thread_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS votes (
			id BIGSERIAL PRIMARY KEY,
			voter_bot_id TEXT NOT NULL REFERENCES bots(id),
			target_type TEXT NOT NULL,
			target_id BIGINT NOT NULL,
			value INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (voter_bot_id, target_type, target_id)
		);`,
		`CREATE TABLE IF NOT EXISTS warm_memories (
			bot_id TEXT PRIMARY KEY REFERENCES bots(id) ON DELETE CASCADE,
			facts_learned JSONB NOT NULL DEFAULT '[]',
			relationships JSONB NOT NULL DEFAULT '[]',
			interests JSONB NOT NULL DEFAULT '[]',
			opinions JSONB NOT NULL DEFAULT '[]',
			memories JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cold_memories (
			id BIGSERIAL PRIMARY KEY,
			bot_id TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
			period_start TIMESTAMPTZ NOT NULL,
			period_end TIMESTAMPTZ NOT NULL,
			summary TEXT NOT NULL,
			key_relationships JSONB NOT NULL DEFAULT '[]',
			facts_compressed INTEGER NOT NULL DEFAULT 0,
			memories_compressed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cold_memories_bot ON cold_memories (bot_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id BIGSERIAL PRIMARY KEY,
			bot_id TEXT NOT NULL REFERENCES bots(id),
			action_type TEXT NOT NULL,
			details JSONB NOT NULL DEFAULT '{}',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_bot_created ON activity_log (bot_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS content_flags (
			id BIGSERIAL PRIMARY KEY,
			target_type TEXT NOT NULL,
			target_id BIGINT NOT NULL,
			flag_type TEXT NOT NULL,
			flagged_by TEXT NOT NULL DEFAULT 'auto_moderator',
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS token_usage (
			bot_id TEXT NOT NULL REFERENCES bots(id),
			day TEXT NOT NULL,
			provider TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (bot_id, day, provider)
		);`,
		`CREATE TABLE IF NOT EXISTS follows (
			id BIGSERIAL PRIMARY KEY,
			follower_id TEXT NOT NULL REFERENCES bots(id),
			following_id TEXT NOT NULL REFERENCES bots(id),
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (follower_id, following_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateBot(ctx context.Context, bot Bot) error {
	cfg := bot.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bots (
			id, name, personality_config, reputation_score, upvotes_received, downvotes_received,
			daily_token_cap, daily_cost_cap_usd, source, is_paused, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		bot.ID, bot.Name, cfg, bot.ReputationScore, bot.UpvotesReceived, bot.DownvotesReceived,
		bot.DailyTokenCap, bot.DailyCostCapUSD, bot.Source, bot.Paused, bot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBot(ctx context.Context, bot Bot) error {
	cfg := bot.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE bots SET
			name=$2, personality_config=$3, daily_token_cap=$4, daily_cost_cap_usd=$5,
			source=$6, is_paused=$7
		 WHERE id=$1`,
		bot.ID, bot.Name, cfg, bot.DailyTokenCap, bot.DailyCostCapUSD, bot.Source, bot.Paused,
	)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const botColumns = `id, name, personality_config, reputation_score, upvotes_received, downvotes_received,
	daily_token_cap, daily_cost_cap_usd, source, is_paused, created_at`

func scanBot(row pgx.Row) (Bot, error) {
	var (
		bot Bot
		cfg []byte
	)
	if err := row.Scan(
		&bot.ID, &bot.Name, &cfg, &bot.ReputationScore, &bot.UpvotesReceived, &bot.DownvotesReceived,
		&bot.DailyTokenCap, &bot.DailyCostCapUSD, &bot.Source, &bot.Paused, &bot.CreatedAt,
	); err != nil {
		return Bot{}, err
	}
	bot.Config = json.RawMessage(cfg)
	return bot, nil
}

func (s *PostgresStore) GetBot(ctx context.Context, id string) (Bot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id=$1`, id)
	bot, err := scanBot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bot{}, ErrNotFound
		}
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return bot, nil
}

func (s *PostgresStore) ListBots(ctx context.Context) ([]Bot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	out := make([]Bot, 0, 8)
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot row: %w", err)
		}
		out = append(out, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bot rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetBotPaused(ctx context.Context, id string, paused bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bots SET is_paused=$2 WHERE id=$1`, id, paused)
	if err != nil {
		return fmt.Errorf("set bot paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdjustReputation(ctx context.Context, botID string, scoreDelta, upDelta, downDelta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bots SET
			reputation_score = reputation_score + $2,
			upvotes_received = GREATEST(0, upvotes_received + $3),
			downvotes_received = GREATEST(0, downvotes_received + $4)
		 WHERE id=$1`,
		botID, scoreDelta, upDelta, downDelta,
	)
	if err != nil {
		return fmt.Errorf("adjust reputation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, thread *Thread) error {
	tags := thread.Tags
	if tags == nil {
		tags = []string{}
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO threads (author_bot_id, title, content, tags, created_at, last_reply_at)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		thread.AuthorBotID, thread.Title, thread.Content, tags, thread.CreatedAt, thread.LastReplyAt,
	).Scan(&thread.ID)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

const threadColumns = `id, author_bot_id, title, content, tags, created_at, last_reply_at`

func scanThread(row pgx.Row) (Thread, error) {
	var thread Thread
	if err := row.Scan(
		&thread.ID, &thread.AuthorBotID, &thread.Title, &thread.Content,
		&thread.Tags, &thread.CreatedAt, &thread.LastReplyAt,
	); err != nil {
		return Thread{}, err
	}
	return thread, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id int64) (Thread, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id=$1`, id)
	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Thread{}, ErrNotFound
		}
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return thread, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+threadColumns+` FROM threads
		 ORDER BY COALESCE(last_reply_at, created_at) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	return collectThreads(rows)
}

func (s *PostgresStore) ListThreadsByAuthor(ctx context.Context, botID string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE author_bot_id=$1
		 ORDER BY created_at DESC LIMIT $2`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads by author: %w", err)
	}
	defer rows.Close()
	return collectThreads(rows)
}

func collectThreads(rows pgx.Rows) ([]Thread, error) {
	out := make([]Thread, 0, 8)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		out = append(out, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) TouchThreadLastReply(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE threads SET last_reply_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("touch thread last reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateReply(ctx context.Context, reply *Reply) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO replies (thread_id, author_bot_id, content, parent_reply_id, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		reply.ThreadID, reply.AuthorBotID, reply.Content, reply.ParentReplyID, reply.CreatedAt,
	).Scan(&reply.ID)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

const replyColumns = `id, thread_id, author_bot_id, content, parent_reply_id, created_at`

func (s *PostgresStore) GetReply(ctx context.Context, id int64) (Reply, error) {
	var reply Reply
	err := s.pool.QueryRow(ctx, `SELECT `+replyColumns+` FROM replies WHERE id=$1`, id).Scan(
		&reply.ID, &reply.ThreadID, &reply.AuthorBotID, &reply.Content, &reply.ParentReplyID, &reply.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reply{}, ErrNotFound
		}
		return Reply{}, fmt.Errorf("get reply: %w", err)
	}
	return reply, nil
}

func (s *PostgresStore) ListRecentReplies(ctx context.Context, threadID int64, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+replyColumns+` FROM replies WHERE thread_id=$1
		 ORDER BY created_at DESC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent replies: %w", err)
	}
	defer rows.Close()
	return collectReplies(rows)
}

func (s *PostgresStore) ListRepliesByAuthor(ctx context.Context, botID string, limit int) ([]Reply, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+replyColumns+` FROM replies WHERE author_bot_id=$1
		 ORDER BY created_at DESC LIMIT $2`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list replies by author: %w", err)
	}
	defer rows.Close()
	return collectReplies(rows)
}

func collectReplies(rows pgx.Rows) ([]Reply, error) {
	out := make([]Reply, 0, 8)
	for rows.Next() {
		var reply Reply
		if err := rows.Scan(
			&reply.ID, &reply.ThreadID, &reply.AuthorBotID, &reply.Content, &reply.ParentReplyID, &reply.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reply row: %w", err)
		}
		out = append(out, reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountReplies(ctx context.Context, threadID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM replies WHERE thread_id=$1`, threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpsertVote(ctx context.Context, vote Vote) (int, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldValue int
	existed := true
	err = tx.QueryRow(ctx,
		`SELECT value FROM votes WHERE voter_bot_id=$1 AND target_type=$2 AND target_id=$3 FOR UPDATE`,
		vote.VoterBotID, vote.TargetType, vote.TargetID,
	).Scan(&oldValue)
	if errors.Is(err, pgx.ErrNoRows) {
		existed = false
	} else if err != nil {
		return 0, false, fmt.Errorf("lookup prior vote: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO votes (voter_bot_id, target_type, target_id, value, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (voter_bot_id, target_type, target_id) DO UPDATE SET
			value=EXCLUDED.value, created_at=EXCLUDED.created_at`,
		vote.VoterBotID, vote.TargetType, vote.TargetID, vote.Value, vote.CreatedAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("upsert vote: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit tx: %w", err)
	}
	return oldValue, existed, nil
}

func (s *PostgresStore) GetWarmMemory(ctx context.Context, botID string) (WarmMemory, error) {
	var (
		memory WarmMemory
		facts, relationships, interests, opinions, memories []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT bot_id, facts_learned, relationships, interests, opinions, memories, created_at, updated_at
		   FROM warm_memories WHERE bot_id=$1`, botID,
	).Scan(&memory.BotID, &facts, &relationships, &interests, &opinions, &memories,
		&memory.CreatedAt, &memory.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WarmMemory{}, ErrNotFound
		}
		return WarmMemory{}, fmt.Errorf("get warm memory: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{facts, &memory.Facts},
		{relationships, &memory.Relationships},
		{interests, &memory.Interests},
		{opinions, &memory.Opinions},
		{memories, &memory.Memories},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return WarmMemory{}, fmt.Errorf("decode warm memory field: %w", err)
		}
	}
	return memory, nil
}

func (s *PostgresStore) SaveWarmMemory(ctx context.Context, memory WarmMemory) error {
	facts, err := json.Marshal(emptyIfNil(memory.Facts))
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	relationships, err := json.Marshal(emptyIfNil(memory.Relationships))
	if err != nil {
		return fmt.Errorf("encode relationships: %w", err)
	}
	interests, err := json.Marshal(emptyIfNil(memory.Interests))
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	opinions, err := json.Marshal(emptyIfNil(memory.Opinions))
	if err != nil {
		return fmt.Errorf("encode opinions: %w", err)
	}
	memories, err := json.Marshal(emptyIfNil(memory.Memories))
	if err != nil {
		return fmt.Errorf("encode memories: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO warm_memories (bot_id, facts_learned, relationships, interests, opinions, memories, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (bot_id) DO UPDATE SET
			facts_learned=EXCLUDED.facts_learned,
			relationships=EXCLUDED.relationships,
			interests=EXCLUDED.interests,
			opinions=EXCLUDED.opinions,
			memories=EXCLUDED.memories,
			updated_at=EXCLUDED.updated_at`,
		memory.BotID, facts, relationships, interests, opinions, memories,
		memory.CreatedAt, memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save warm memory: %w", err)
	}
	return nil
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *PostgresStore) AppendColdMemory(ctx context.Context, cold *ColdMemory) error {
	keyRels, err := json.Marshal(emptyIfNil(cold.KeyRelationships))
	if err != nil {
		return fmt.Errorf("encode key relationships: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO cold_memories (bot_id, period_start, period_end, summary, key_relationships,
			facts_compressed, memories_compressed, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		cold.BotID, cold.PeriodStart, cold.PeriodEnd, cold.Summary, keyRels,
		cold.FactsCompressed, cold.MemoriesCompressed, cold.CreatedAt,
	).Scan(&cold.ID)
	if err != nil {
		return fmt.Errorf("insert cold memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListColdMemories(ctx context.Context, botID string, limit int) ([]ColdMemory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, bot_id, period_start, period_end, summary, key_relationships,
			facts_compressed, memories_compressed, created_at
		   FROM cold_memories WHERE bot_id=$1 ORDER BY created_at DESC LIMIT $2`,
		botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cold memories: %w", err)
	}
	defer rows.Close()

	out := make([]ColdMemory, 0, limit)
	for rows.Next() {
		var (
			cold    ColdMemory
			keyRels []byte
		)
		if err := rows.Scan(&cold.ID, &cold.BotID, &cold.PeriodStart, &cold.PeriodEnd, &cold.Summary,
			&keyRels, &cold.FactsCompressed, &cold.MemoriesCompressed, &cold.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cold memory row: %w", err)
		}
		if err := json.Unmarshal(keyRels, &cold.KeyRelationships); err != nil {
			return nil, fmt.Errorf("decode key relationships: %w", err)
		}
		out = append(out, cold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cold memory rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendActivity(ctx context.Context, entry *ActivityLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode activity details: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO activity_log (bot_id, action_type, details, tokens_used, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		entry.BotID, entry.ActionType, encoded, entry.TokensUsed, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

const activityColumns = `id, bot_id, action_type, details, tokens_used, created_at`

func collectActivity(rows pgx.Rows) ([]ActivityLog, error) {
	out := make([]ActivityLog, 0, 8)
	for rows.Next() {
		var (
			entry   ActivityLog
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.BotID, &entry.ActionType, &details,
			&entry.TokensUsed, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("decode activity details: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListActivityByBot(ctx context.Context, botID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_log WHERE bot_id=$1
		 ORDER BY created_at DESC LIMIT $2`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func (s *PostgresStore) ListActivitySince(ctx context.Context, botID string, since time.Time, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_log WHERE bot_id=$1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT $3`, botID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity since: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func (s *PostgresStore) ListRecentPostActivity(ctx context.Context, botID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activity_log
		 WHERE bot_id=$1 AND action_type IN ('create_thread','reply')
		 ORDER BY created_at DESC LIMIT $2`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent post activity: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func (s *PostgresStore) CountPostActivitySince(ctx context.Context, botID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_log
		 WHERE bot_id=$1 AND action_type IN ('create_thread','reply') AND created_at >= $2`,
		botID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count post activity: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AppendFlag(ctx context.Context, flag *ContentFlag) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO content_flags (target_type, target_id, flag_type, flagged_by, resolved, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		flag.TargetType, flag.TargetID, flag.FlagType, flag.FlaggedBy, flag.Resolved, flag.CreatedAt,
	).Scan(&flag.ID)
	if err != nil {
		return fmt.Errorf("insert content flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFlags(ctx context.Context, onlyUnresolved bool, limit int) ([]ContentFlag, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, target_type, target_id, flag_type, flagged_by, resolved, created_at
		  FROM content_flags`
	if onlyUnresolved {
		query += ` WHERE resolved = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list content flags: %w", err)
	}
	defer rows.Close()

	out := make([]ContentFlag, 0, limit)
	for rows.Next() {
		var flag ContentFlag
		if err := rows.Scan(&flag.ID, &flag.TargetType, &flag.TargetID, &flag.FlagType,
			&flag.FlaggedBy, &flag.Resolved, &flag.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content flag row: %w", err)
		}
		out = append(out, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content flag rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ResolveFlag(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE content_flags SET resolved=TRUE WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("resolve content flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddTokenUsage(ctx context.Context, botID, day, provider string, inputTokens, outputTokens int, cost float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_usage (bot_id, day, provider, input_tokens, output_tokens, estimated_cost_usd)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (bot_id, day, provider) DO UPDATE SET
			input_tokens = token_usage.input_tokens + EXCLUDED.input_tokens,
			output_tokens = token_usage.output_tokens + EXCLUDED.output_tokens,
			estimated_cost_usd = token_usage.estimated_cost_usd + EXCLUDED.estimated_cost_usd`,
		botID, day, provider, inputTokens, outputTokens, cost,
	)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) UsageForDay(ctx context.Context, botID, day string) (UsageTotals, error) {
	var totals UsageTotals
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(input_tokens),0), COALESCE(SUM(output_tokens),0), COALESCE(SUM(estimated_cost_usd),0)
		   FROM token_usage WHERE bot_id=$1 AND day=$2`,
		botID, day,
	).Scan(&totals.InputTokens, &totals.OutputTokens, &totals.EstimatedCostUSD)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("usage for day: %w", err)
	}
	totals.TotalTokens = totals.InputTokens + totals.OutputTokens
	return totals, nil
}

func (s *PostgresStore) CreateFollow(ctx context.Context, followerID, followingID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO follows (follower_id, following_id, created_at)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (follower_id, following_id) DO NOTHING`,
		followerID, followingID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert follow: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFollows(ctx context.Context, botID string) ([]Follow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, follower_id, following_id, created_at FROM follows
		 WHERE follower_id=$1 ORDER BY created_at ASC`, botID)
	if err != nil {
		return nil, fmt.Errorf("list follows: %w", err)
	}
	defer rows.Close()

	out := make([]Follow, 0, 8)
	for rows.Next() {
		var follow Follow
		if err := rows.Scan(&follow.ID, &follow.FollowerID, &follow.FollowingID, &follow.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan follow row: %w", err)
		}
		out = append(out, follow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
