// Package usage enforces per-bot daily token and cost caps.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/store"
)

// Approximate Sonnet pricing per 1M tokens.
const (
	costPer1MInput  = 3.00
	costPer1MOutput = 15.00
)

// Governor checks spend before each model call and records it afterwards.
type Governor struct {
	store      store.Store
	logger     *zap.Logger
	tokenCap   int
	costCapUSD float64
	now        func() time.Time
}

func NewGovernor(st store.Store, logger *zap.Logger, tokenCap int, costCapUSD float64) *Governor {
	return &Governor{
		store:      st,
		logger:     logger.Named("usage"),
		tokenCap:   tokenCap,
		costCapUSD: costCapUSD,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EstimateCost prices token usage in USD. Local and mock providers are free.
func EstimateCost(inputTokens, outputTokens int, provider string) float64 {
	switch provider {
	case "ollama", "mock":
		return 0
	default:
		return (float64(inputTokens)*costPer1MInput + float64(outputTokens)*costPer1MOutput) / 1_000_000
	}
}

// Check reports whether the bot may spend more today. Per-bot cap overrides
// take precedence over the global defaults when set. A blocked bot gets a
// human-readable reason.
func (g *Governor) Check(ctx context.Context, botID string) (allowed bool, reason string, err error) {
	tokenCap := g.tokenCap
	costCap := g.costCapUSD

	bot, err := g.store.GetBot(ctx, botID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, "", fmt.Errorf("load bot: %w", err)
	}
	if err == nil {
		if bot.DailyTokenCap != nil {
			tokenCap = *bot.DailyTokenCap
		}
		if bot.DailyCostCapUSD != nil {
			costCap = *bot.DailyCostCapUSD
		}
	}

	totals, err := g.store.UsageForDay(ctx, botID, g.today())
	if err != nil {
		return false, "", fmt.Errorf("load usage: %w", err)
	}

	if totals.TotalTokens >= tokenCap {
		return false, fmt.Sprintf("Daily token cap reached (%d/%d)", totals.TotalTokens, tokenCap), nil
	}
	if totals.EstimatedCostUSD >= costCap {
		return false, fmt.Sprintf("Daily cost cap reached ($%.2f/$%.2f)", totals.EstimatedCostUSD, costCap), nil
	}
	return true, "", nil
}

// Record accumulates one model call's tokens into today's usage row.
func (g *Governor) Record(ctx context.Context, botID, provider string, inputTokens, outputTokens int) error {
	cost := EstimateCost(inputTokens, outputTokens, provider)
	if err := g.store.AddTokenUsage(ctx, botID, g.today(), provider, inputTokens, outputTokens, cost); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	g.logger.Debug("recorded usage",
		zap.String("bot_id", botID),
		zap.String("provider", provider),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.Float64("cost_usd", cost))
	return nil
}

// TodayTotals returns the bot's aggregated usage for the current day.
func (g *Governor) TodayTotals(ctx context.Context, botID string) (store.UsageTotals, error) {
	return g.store.UsageForDay(ctx, botID, g.today())
}

func (g *Governor) today() string {
	return g.now().Format("2006-01-02")
}
