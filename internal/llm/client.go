package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is a normalized single-turn completion request.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Response is the normalized completion result with token accounting.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client produces completions from one model provider.
type Client interface {
	Think(ctx context.Context, req Request) (Response, error)
	Provider() string
}

// Config controls client construction.
type Config struct {
	Provider        string
	AnthropicAPIKey string
	OllamaBaseURL   string
	CallTimeout     time.Duration
}

// New builds the client for the configured provider.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.CallTimeout), nil
	case "ollama":
		return NewOllamaClient(cfg.OllamaBaseURL, cfg.CallTimeout), nil
	case "mock", "":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
