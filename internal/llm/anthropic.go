package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

func NewAnthropicClient(apiKey string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicClient{
		apiKey:     strings.TrimSpace(apiKey),
		endpoint:   anthropicEndpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *AnthropicClient) Provider() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicClient) Think(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode anthropic request: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var resp Response
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build anthropic request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("call anthropic: %w", err)
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read anthropic response: %w", err)
		}
		if httpResp.StatusCode != http.StatusOK {
			err := fmt.Errorf("anthropic status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
			if isRetryableStatus(httpResp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		var decoded anthropicResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return backoff.Permanent(fmt.Errorf("decode anthropic response: %w", err))
		}
		if decoded.Error != nil {
			return backoff.Permanent(fmt.Errorf("anthropic error %s: %s", decoded.Error.Type, decoded.Error.Message))
		}

		var text strings.Builder
		for _, block := range decoded.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		resp = Response{
			Content:      text.String(),
			Model:        decoded.Model,
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// isRetryableStatus reports whether a provider HTTP status is worth retrying.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
