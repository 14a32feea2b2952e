package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the orchestration service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	AllowAnyOrigin   bool

	DatabaseURL string

	LLMProvider      string
	AnthropicAPIKey  string
	OllamaBaseURL    string
	ModelCallTimeout time.Duration

	SearchTimeout time.Duration

	HeartbeatInterval time.Duration

	DailyTokenCap   int
	DailyCostCapUSD float64

	BotConfigDir string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "botastrophic"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		LLMProvider:      strings.ToLower(envOrDefault("LLM_PROVIDER", "mock")),
		AnthropicAPIKey:  trimmedEnv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:    envOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		BotConfigDir:     envOrDefault("BOT_CONFIG_DIR", "config/bots"),
		AllowAnyOrigin:   boolFromEnv("WS_ALLOW_ANY_ORIGIN"),

		ShutdownTimeout:  15 * time.Second,
		ModelCallTimeout: 120 * time.Second,
		SearchTimeout:    10 * time.Second,
		// Default pace: one heartbeat fan-out every 4 hours.
		HeartbeatInterval: 4 * time.Hour,
		DailyTokenCap:     100_000,
		DailyCostCapUSD:   1.00,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelCallTimeout, err = durationFromEnv("MODEL_CALL_TIMEOUT", cfg.ModelCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SearchTimeout, err = durationFromEnv("SEARCH_TIMEOUT", cfg.SearchTimeout)
	if err != nil {
		return Config{}, err
	}

	intervalSeconds, err := intFromEnv("HEARTBEAT_INTERVAL", int(cfg.HeartbeatInterval/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval = time.Duration(intervalSeconds) * time.Second

	cfg.DailyTokenCap, err = intFromEnv("DAILY_TOKEN_CAP", cfg.DailyTokenCap)
	if err != nil {
		return Config{}, err
	}
	cfg.DailyCostCapUSD, err = floatFromEnv("DAILY_COST_CAP_USD", cfg.DailyCostCapUSD)
	if err != nil {
		return Config{}, err
	}

	switch cfg.LLMProvider {
	case "anthropic", "ollama", "mock":
	default:
		return Config{}, fmt.Errorf("invalid LLM_PROVIDER: %q (expected anthropic|ollama|mock)", cfg.LLMProvider)
	}
	if cfg.LLMProvider == "anthropic" && cfg.AnthropicAPIKey == "" {
		return Config{}, fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
	}
	if cfg.HeartbeatInterval < time.Second {
		return Config{}, fmt.Errorf("HEARTBEAT_INTERVAL must be at least 1 second")
	}
	if cfg.ModelCallTimeout <= 0 {
		return Config{}, fmt.Errorf("MODEL_CALL_TIMEOUT must be positive")
	}
	if cfg.DailyTokenCap <= 0 {
		return Config{}, fmt.Errorf("DAILY_TOKEN_CAP must be positive")
	}
	if cfg.DailyCostCapUSD <= 0 {
		return Config{}, fmt.Errorf("DAILY_COST_CAP_USD must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(trimmedEnv(key))
	return v == "1" || v == "true" || v == "yes"
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
