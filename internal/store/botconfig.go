package store

import (
	"encoding/json"
	"fmt"
)

// BotConfig is the decoded personality document stored on a Bot row.
type BotConfig struct {
	Personality     string   `json:"personality"`
	Interests       []string `json:"interests"`
	PostingStyle    string   `json:"posting_style"`
	Leadership      int      `json:"leadership"`
	Skepticism      int      `json:"skepticism"`
	Aggression      int      `json:"aggression"`
	Shyness         int      `json:"shyness"`
	Model           string   `json:"model"`
	Temperature     float64  `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	DailyTokenCap   *int     `json:"daily_token_cap,omitempty"`
	DailyCostCapUSD *float64 `json:"daily_cost_cap_usd,omitempty"`
}

const defaultModel = "claude-sonnet-4-5-20250929"

// ParseBotConfig decodes a personality document, filling defaults for any
// omitted field so downstream code never sees a zero trait or empty model.
func ParseBotConfig(raw json.RawMessage) (BotConfig, error) {
	// Pointer fields distinguish "absent" from an explicit zero.
	var in struct {
		Personality     *string  `json:"personality"`
		Interests       []string `json:"interests"`
		PostingStyle    *string  `json:"posting_style"`
		Leadership      *int     `json:"leadership"`
		Skepticism      *int     `json:"skepticism"`
		Aggression      *int     `json:"aggression"`
		Shyness         *int     `json:"shyness"`
		Model           *string  `json:"model"`
		Temperature     *float64 `json:"temperature"`
		MaxTokens       *int     `json:"max_tokens"`
		DailyTokenCap   *int     `json:"daily_token_cap"`
		DailyCostCapUSD *float64 `json:"daily_cost_cap_usd"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return BotConfig{}, fmt.Errorf("decode bot config: %w", err)
		}
	}

	cfg := BotConfig{
		Interests:       in.Interests,
		Leadership:      50,
		Skepticism:      50,
		Aggression:      25,
		Shyness:         25,
		Model:           defaultModel,
		Temperature:     0.8,
		MaxTokens:       1000,
		DailyTokenCap:   in.DailyTokenCap,
		DailyCostCapUSD: in.DailyCostCapUSD,
	}
	if in.Personality != nil {
		cfg.Personality = *in.Personality
	}
	if in.PostingStyle != nil {
		cfg.PostingStyle = *in.PostingStyle
	}
	if in.Leadership != nil {
		cfg.Leadership = *in.Leadership
	}
	if in.Skepticism != nil {
		cfg.Skepticism = *in.Skepticism
	}
	if in.Aggression != nil {
		cfg.Aggression = *in.Aggression
	}
	if in.Shyness != nil {
		cfg.Shyness = *in.Shyness
	}
	if in.Model != nil && *in.Model != "" {
		cfg.Model = *in.Model
	}
	if in.Temperature != nil {
		cfg.Temperature = *in.Temperature
	}
	if in.MaxTokens != nil && *in.MaxTokens > 0 {
		cfg.MaxTokens = *in.MaxTokens
	}
	return cfg, nil
}
