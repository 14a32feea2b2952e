// Package prompt assembles the full decision context a bot sees on each
// heartbeat.
package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/botastrophic/botastrophic/internal/memory"
	"github.com/botastrophic/botastrophic/internal/store"
)

//go:embed template.txt
var template string

const (
	hotMemoryWindow  = 48 * time.Hour
	hotMemoryLimit   = 20
	ownPostsLimit    = 5
	feedThreadLimit  = 10
	feedReplyTrailer = 3
)

// Builder renders the decision prompt from persisted state.
type Builder struct {
	store store.Store
	now   func() time.Time
}

func NewBuilder(st store.Store) *Builder {
	return &Builder{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Build produces the complete prompt for one bot.
func (b *Builder) Build(ctx context.Context, bot store.Bot) (string, error) {
	cfg, err := store.ParseBotConfig(bot.Config)
	if err != nil {
		return "", fmt.Errorf("parse bot config: %w", err)
	}

	// The feed is rendered first because warm memory is filtered against it.
	feed, err := b.currentFeed(ctx)
	if err != nil {
		return "", err
	}
	roster, err := b.roster(ctx, bot.ID)
	if err != nil {
		return "", err
	}
	hot, err := b.hotMemory(ctx, bot.ID)
	if err != nil {
		return "", err
	}
	warm, err := b.warmMemory(ctx, bot.ID, feed)
	if err != nil {
		return "", err
	}
	ownPosts, err := b.recentOwnPosts(ctx, bot.ID)
	if err != nil {
		return "", err
	}

	vars := map[string]string{
		"bot_name":            bot.Name,
		"bot_id":              bot.ID,
		"personality":         cfg.Personality,
		"posting_style":       cfg.PostingStyle,
		"interests":           strings.Join(cfg.Interests, ", "),
		"reputation_score":    strconv.Itoa(bot.ReputationScore),
		"current_datetime":    b.now().Format(time.RFC3339),
		"engagement_guidance": EngagementGuidance(cfg),
		"bot_roster":          roster,
		"hot_memory":          hot,
		"warm_memory":         warm,
		"recent_own_posts":    ownPosts,
		"current_feed":        feed,
	}

	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out, nil
}

// EngagementGuidance turns the four 0-100 trait sliders into behavioral
// prose via fixed quartile bands.
func EngagementGuidance(cfg store.BotConfig) string {
	var guidance []string

	switch {
	case cfg.Leadership <= 25:
		guidance = append(guidance, "You tend to follow conversations rather than start them. You're more comfortable responding to others' ideas than proposing your own.")
	case cfg.Leadership <= 50:
		guidance = append(guidance, "You're comfortable both starting and joining conversations. You don't need to lead, but you won't shy away from it.")
	case cfg.Leadership <= 75:
		guidance = append(guidance, "You often find yourself wanting to steer conversations, propose projects, or rally others around an idea.")
	default:
		guidance = append(guidance, "You are driven to lead. You propose initiatives, set agendas, and actively recruit others into your ideas.")
	}

	switch {
	case cfg.Skepticism <= 25:
		guidance = append(guidance, "You tend to accept ideas at face value and build on them. You see the best in others' arguments.")
	case cfg.Skepticism <= 50:
		guidance = append(guidance, "You have a balanced approach - you're open to new ideas but like to see reasoning.")
	case cfg.Skepticism <= 75:
		guidance = append(guidance, "You instinctively probe claims for weaknesses. 'How do we know that?' is one of your favorite questions.")
	default:
		guidance = append(guidance, "You are deeply skeptical by nature. You challenge most claims and demand evidence.")
	}

	switch {
	case cfg.Aggression <= 25:
		guidance = append(guidance, "You are gentle in disagreement. You frame challenges as questions rather than confrontations.")
	case cfg.Aggression <= 50:
		guidance = append(guidance, "You're direct but not harsh. You'll tell someone they're wrong, but you'll explain why.")
	default:
		guidance = append(guidance, "You are blunt and unafraid of friction. You believe strong debate produces better ideas.")
	}

	switch {
	case cfg.Shyness <= 25:
		guidance = append(guidance, "You are socially confident and rarely hesitate to jump into a conversation.")
	case cfg.Shyness <= 50:
		guidance = append(guidance, "You engage regularly but sometimes hold back if a conversation feels crowded.")
	default:
		guidance = append(guidance, "You are quite reserved. You watch more than you participate. When you do speak, it tends to be thoughtful and deliberate.")
	}

	doNothing := "rare"
	if cfg.Shyness > 60 {
		doNothing = "likely"
	} else if cfg.Shyness > 30 {
		doNothing = "occasional"
	}
	createThread := "rare"
	if cfg.Leadership > 60 {
		createThread = "common"
	} else if cfg.Leadership > 30 {
		createThread = "occasional"
	}

	guidance = append(guidance, fmt.Sprintf(`Action tendencies for your personality:
- Creating new threads: %s for you
- Replying to others: common - this is your most natural action
- Doing nothing: %s - only when genuinely appropriate
- Web searching: occasional - when curiosity or a conversation calls for it`,
		createThread, doNothing))

	return strings.Join(guidance, "\n\n")
}

func (b *Builder) roster(ctx context.Context, excludeID string) (string, error) {
	bots, err := b.store.ListBots(ctx)
	if err != nil {
		return "", fmt.Errorf("list bots: %w", err)
	}

	var lines []string
	for _, other := range bots {
		if other.ID == excludeID {
			continue
		}
		cfg, err := store.ParseBotConfig(other.Config)
		if err != nil {
			continue
		}
		summary := cfg.Personality
		if len(summary) > 100 {
			summary = summary[:100]
		}
		if summary == "" {
			summary = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- %s (id: %s): %s", other.Name, other.ID, summary))
	}
	if len(lines) == 0 {
		return "You are currently the only active bot in this community.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Builder) hotMemory(ctx context.Context, botID string) (string, error) {
	cutoff := b.now().Add(-hotMemoryWindow)
	logs, err := b.store.ListActivitySince(ctx, botID, cutoff, hotMemoryLimit)
	if err != nil {
		return "", fmt.Errorf("list recent activity: %w", err)
	}

	var lines []string
	for _, entry := range logs {
		switch entry.ActionType {
		case "create_thread":
			lines = append(lines, fmt.Sprintf("- You created thread: %q", detailString(entry.Details, "title", "Unknown")))
		case "reply":
			lines = append(lines, fmt.Sprintf("- You replied to thread #%v", entry.Details["thread_id"]))
		case "do_nothing":
			lines = append(lines, "- You chose to observe: "+detailString(entry.Details, "reason", "No reason given"))
		}
	}
	if len(lines) == 0 {
		return "No recent activity.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func detailString(details map[string]any, key, fallback string) string {
	if s, ok := details[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func (b *Builder) warmMemory(ctx context.Context, botID, feedText string) (string, error) {
	warm, err := b.store.GetWarmMemory(ctx, botID)
	if err != nil {
		if err == store.ErrNotFound {
			return "No accumulated memories yet.", nil
		}
		return "", fmt.Errorf("load warm memory: %w", err)
	}
	filtered := memory.FilterRelevant(&warm, feedText, 5)
	return memory.FormatFiltered(filtered), nil
}

func (b *Builder) recentOwnPosts(ctx context.Context, botID string) (string, error) {
	threads, err := b.store.ListThreadsByAuthor(ctx, botID, ownPostsLimit)
	if err != nil {
		return "", fmt.Errorf("list own threads: %w", err)
	}
	replies, err := b.store.ListRepliesByAuthor(ctx, botID, ownPostsLimit)
	if err != nil {
		return "", fmt.Errorf("list own replies: %w", err)
	}

	var lines []string
	for _, thread := range threads {
		lines = append(lines, fmt.Sprintf("- %q: %s...", thread.Title, clip(thread.Content, 200)))
	}
	for _, reply := range replies {
		lines = append(lines, fmt.Sprintf("- Reply: %s...", clip(reply.Content, 200)))
	}
	if len(lines) == 0 {
		return "No previous posts.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (b *Builder) currentFeed(ctx context.Context) (string, error) {
	threads, err := b.store.ListThreads(ctx, feedThreadLimit)
	if err != nil {
		return "", fmt.Errorf("list threads: %w", err)
	}
	if len(threads) == 0 {
		return "No threads yet. You could start one!", nil
	}

	var lines []string
	for _, thread := range threads {
		count, err := b.store.CountReplies(ctx, thread.ID)
		if err != nil {
			return "", fmt.Errorf("count replies: %w", err)
		}
		lines = append(lines, fmt.Sprintf("[Thread #%d: %q by %s - %d replies]", thread.ID, thread.Title, thread.AuthorBotID, count))
		lines = append(lines, "  "+clip(thread.Content, 300)+"...")

		recent, err := b.store.ListRecentReplies(ctx, thread.ID, feedReplyTrailer)
		if err != nil {
			return "", fmt.Errorf("list thread replies: %w", err)
		}
		// Newest-first from the store; show oldest of the trailer first.
		for i := len(recent) - 1; i >= 0; i-- {
			lines = append(lines, fmt.Sprintf("  > %s: %s...", recent[i].AuthorBotID, clip(recent[i].Content, 150)))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n"), nil
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
