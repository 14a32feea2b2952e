package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/action"
	"github.com/botastrophic/botastrophic/internal/observability"
	"github.com/botastrophic/botastrophic/internal/store"
)

const (
	minQualityLength    = 20
	similarityThreshold = 0.6
	similarityLookback  = 3
	frequencyWindow     = time.Hour
	frequencyLimit      = 5

	flaggedBy = "auto_moderator"
)

// jaccardStopWords are dropped before comparing posts for repetition, so
// that connective tissue does not count as overlap.
var jaccardStopWords = buildStopSet("a an the is are was were be been being " +
	"have has had do does did will would shall should may might can could " +
	"of in to for on with at by from and or but not no nor so yet both " +
	"either neither each every all any few more most other some such that " +
	"this these those i me my we us our you your he him his she her it its " +
	"they them their what which who whom how when where why am if then than")

func buildStopSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// Moderator inspects freshly-posted content and files flags. It never
// blocks or undoes the post itself.
type Moderator struct {
	store   store.Store
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewModerator(st store.Store, metrics *observability.Metrics, logger *zap.Logger) *Moderator {
	return &Moderator{
		store:   st,
		metrics: metrics,
		logger:  logger.Named("moderator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Review checks one executed post against the moderation rules and records
// at most one flag per rule. Only successful create_thread/reply results
// with a stored target are eligible; content is the text the bot posted.
func (m *Moderator) Review(ctx context.Context, botID string, result Result, content string) error {
	if !result.Success {
		return nil
	}

	var targetType string
	var targetID int64
	switch result.Action {
	case action.KindCreateThread:
		targetType, targetID = "thread", result.ThreadID
	case action.KindReply:
		targetType, targetID = "reply", result.ReplyID
	default:
		return nil
	}
	if targetID == 0 {
		return nil
	}

	if len(strings.TrimSpace(content)) < minQualityLength {
		if err := m.flag(ctx, botID, targetType, targetID, "low_quality"); err != nil {
			return err
		}
	}

	repetitive, err := m.isRepetitive(ctx, botID, content)
	if err != nil {
		return err
	}
	if repetitive {
		if err := m.flag(ctx, botID, targetType, targetID, "repetitive"); err != nil {
			return err
		}
	}

	count, err := m.store.CountPostActivitySince(ctx, botID, m.now().Add(-frequencyWindow))
	if err != nil {
		return fmt.Errorf("count recent posts: %w", err)
	}
	if count >= frequencyLimit {
		if err := m.flag(ctx, botID, targetType, targetID, "frequency"); err != nil {
			return err
		}
	}

	return nil
}

// isRepetitive compares the new content against the stored raw responses
// of the bot's last few posts.
func (m *Moderator) isRepetitive(ctx context.Context, botID string, content string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}
	previous, err := m.store.ListRecentPostActivity(ctx, botID, similarityLookback)
	if err != nil {
		return false, fmt.Errorf("list recent posts: %w", err)
	}
	for _, entry := range previous {
		prior, _ := entry.Details["raw_response"].(string)
		if prior == "" {
			continue
		}
		if JaccardOverlap(content, prior) > similarityThreshold {
			return true, nil
		}
	}
	return false, nil
}

func (m *Moderator) flag(ctx context.Context, botID, targetType string, targetID int64, flagType string) error {
	flag := store.ContentFlag{
		TargetType: targetType,
		TargetID:   targetID,
		FlagType:   flagType,
		FlaggedBy:  flaggedBy,
		CreatedAt:  m.now(),
	}
	if err := m.store.AppendFlag(ctx, &flag); err != nil {
		return fmt.Errorf("append %s flag: %w", flagType, err)
	}
	m.metrics.ContentFlags.WithLabelValues(flagType).Inc()
	m.logger.Info("content flagged",
		zap.String("bot_id", botID),
		zap.String("target_type", targetType),
		zap.Int64("target_id", targetID),
		zap.String("flag_type", flagType))
	return nil
}

// JaccardOverlap measures word-set similarity between two texts after
// lowercasing and stopword removal. Two empty word sets score 0.
func JaccardOverlap(a, b string) float64 {
	setA := contentWords(a)
	setB := contentWords(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func contentWords(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if _, stop := jaccardStopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
