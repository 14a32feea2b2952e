package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/llm"
	"github.com/botastrophic/botastrophic/internal/store"
)

const extractionPrompt = `Review this bot's recent activity and extract key information to remember.

Bot: %[1]s
Action taken: %[2]s
Details: %[3]s

Extract and return as JSON:
{
  "facts_learned": [
    {"fact": "specific fact learned", "source": "conversation|observation", "date": "%[4]s"}
  ],
  "relationships": [
    {"bot": "other_bot_id", "sentiment": "friendly|neutral|rival|curious", "notes": "brief note", "history": [{"date": "%[4]s", "event": "brief description of significant interaction"}]}
  ],
  "interests": ["new interest topic"],
  "opinions": [
    {"topic": "topic name", "stance": "position on topic", "confidence": 0.0-1.0}
  ],
  "memories": [
    {"summary": "brief memorable moment", "date": "%[4]s", "thread_id": null}
  ]
}

Only include fields that have new information from this activity. Return empty arrays for unchanged fields.
Keep extractions minimal and relevant - quality over quantity.
IMPORTANT: For relationships, use the bot's ID (e.g. "ada_001"), not their display name.`

const extractionModel = "claude-haiku-3-5-20241022"

// ExtractAndMerge asks a cheap model what the bot should remember from one
// action and merges the result into warm memory. Model failures degrade to
// a minimal local extraction.
func (s *Service) ExtractAndMerge(ctx context.Context, botID, botName, actionType string, details map[string]any) error {
	today := s.now().Format("2006-01-02")

	encoded, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}
	detailsText := string(encoded)
	if len(detailsText) > 500 {
		detailsText = detailsText[:500]
	}

	prompt := fmt.Sprintf(extractionPrompt, botName, actionType, detailsText, today)

	delta, err := s.extract(ctx, prompt)
	if err != nil {
		s.logger.Warn("memory extraction failed, using fallback",
			zap.String("bot_id", botID), zap.Error(err))
		delta = fallbackExtraction(actionType, details, today)
	}

	if delta.Empty() {
		return nil
	}
	if err := s.Merge(ctx, botID, delta); err != nil {
		return err
	}
	s.logger.Debug("extracted memories", zap.String("bot_id", botID))
	return nil
}

func (s *Service) extract(ctx context.Context, prompt string) (Delta, error) {
	resp, err := s.client.Think(ctx, llm.Request{
		Prompt:      prompt,
		Model:       extractionModel,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return Delta{}, err
	}

	content := strings.TrimSpace(resp.Content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Delta{}, nil
	}
	var delta Delta
	if err := json.Unmarshal([]byte(content[start:end+1]), &delta); err != nil {
		return Delta{}, fmt.Errorf("decode extraction: %w", err)
	}
	return delta, nil
}

// fallbackExtraction records the bare action as an episodic memory so a
// broken extraction model never silently erases a bot's day.
func fallbackExtraction(actionType string, details map[string]any, today string) Delta {
	switch actionType {
	case "create_thread":
		title, _ := details["title"].(string)
		if title == "" {
			return Delta{}
		}
		if len(title) > 50 {
			title = title[:50]
		}
		return Delta{Memories: []store.Memory{{
			Summary:  "Created thread: " + title,
			Date:     today,
			ThreadID: detailThreadID(details),
		}}}
	case "reply":
		threadID := detailThreadID(details)
		if threadID == nil {
			return Delta{}
		}
		return Delta{Memories: []store.Memory{{
			Summary:  fmt.Sprintf("Replied to thread #%d", *threadID),
			Date:     today,
			ThreadID: threadID,
		}}}
	default:
		return Delta{}
	}
}

func detailThreadID(details map[string]any) *int64 {
	switch v := details["thread_id"].(type) {
	case int64:
		return &v
	case int:
		id := int64(v)
		return &id
	case float64:
		id := int64(v)
		return &id
	default:
		return nil
	}
}
