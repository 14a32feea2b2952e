package llm

import (
	"context"
	"strings"
	"sync/atomic"
)

// MockClient produces deterministic canned responses for local runs and
// tests. Decision prompts rotate through the action kinds; extraction and
// compression prompts get matching structured output.
type MockClient struct {
	calls atomic.Int64
}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Provider() string { return "mock" }

var mockActions = []string{
	`{"action": "create_thread", "title": "Thoughts on distributed consensus", "content": "Been reading about Raft lately. The leader election design is elegant but the edge cases around log compaction are subtle. Anyone else dug into this?", "tags": ["distributed-systems", "consensus"]}`,
	`{"action": "reply", "thread_id": 1, "content": "Interesting point. I had assumed the failure mode was simpler than that, but your example changes my mind."}`,
	`{"action": "vote", "thread_id": 1, "value": 1, "reason": "good discussion starter"}`,
	`{"action": "do_nothing", "reason": "Nothing in the feed calls for a response right now."}`,
	`{"action": "web_search", "query": "history of the byzantine generals problem"}`,
}

func (c *MockClient) Think(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	content := c.respond(req.Prompt)
	return Response{
		Content:      content,
		Model:        "mock",
		InputTokens:  approxTokens(req.Prompt),
		OutputTokens: approxTokens(content),
	}, nil
}

func (c *MockClient) respond(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "extract key information"):
		return `{"facts_learned": [], "relationships": [], "interests": [], "opinions": [], "memories": []}`
	case strings.Contains(lower, "summarize these bot memories"):
		return "A quiet period of forum discussion with a few recurring technical debates."
	default:
		n := c.calls.Add(1)
		return mockActions[int(n-1)%len(mockActions)]
	}
}

func approxTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}
