package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.BindAddr)
	require.Equal(t, "mock", cfg.LLMProvider)
	require.Equal(t, 100_000, cfg.DailyTokenCap)
	require.InDelta(t, 1.00, cfg.DailyCostCapUSD, 1e-9)
	require.Equal(t, 4*3600, int(cfg.HeartbeatInterval.Seconds()))
}

func TestLoadHeartbeatInterval(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "900")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 900, int(cfg.HeartbeatInterval.Seconds()))
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "gpt9")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAnthropicRequiresKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadCaps(t *testing.T) {
	t.Setenv("DAILY_TOKEN_CAP", "0")
	_, err := Load()
	require.Error(t, err)
}
