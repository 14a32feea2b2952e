package action

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// FallbackReason is recorded when no parsing strategy recovers an action.
const FallbackReason = "Failed to parse bot response"

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	flatObjectRe  = regexp.MustCompile(`\{[^{}]*"action"[^{}]*\}`)
)

// Parse recovers an Action from raw model output. Models wrap their JSON in
// prose, code fences, or multiple objects, so candidates are tried in order
// of decreasing strictness: the whole text as JSON, fenced code blocks, flat
// objects mentioning "action", then a balanced-brace scan. When nothing
// decodes, the result is DoNothing with FallbackReason.
func Parse(raw string) Action {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DoNothing{Reason: FallbackReason}
	}

	if act, ok := decodeCandidate(trimmed); ok {
		return act
	}
	for _, match := range fencedBlockRe.FindAllStringSubmatch(trimmed, -1) {
		if act, ok := decodeCandidate(strings.TrimSpace(match[1])); ok {
			return act
		}
	}
	for _, match := range flatObjectRe.FindAllString(trimmed, -1) {
		if act, ok := decodeCandidate(match); ok {
			return act
		}
	}
	for _, candidate := range balancedObjects(trimmed) {
		if act, ok := decodeCandidate(candidate); ok {
			return act
		}
	}
	return DoNothing{Reason: FallbackReason}
}

// balancedObjects extracts top-level {...} spans that mention "action",
// catching objects with nested braces that the flat regex misses.
func balancedObjects(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					span := s[start : i+1]
					if strings.Contains(span, `"action"`) {
						out = append(out, span)
					}
					start = -1
				}
			}
		}
	}
	return out
}

// flexInt64 tolerates models emitting numeric IDs as strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt64(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexInt64(v)
	return nil
}

type rawAction struct {
	Action        *string   `json:"action"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	ThreadID      flexInt64 `json:"thread_id"`
	ReplyID       flexInt64 `json:"reply_id"`
	ParentReplyID flexInt64 `json:"parent_reply_id"`
	Value         *int      `json:"value"`
	Query         string    `json:"query"`
	Reason        string    `json:"reason"`
}

func decodeCandidate(candidate string) (Action, bool) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	var raw rawAction
	if err := dec.Decode(&raw); err != nil || raw.Action == nil {
		return nil, false
	}

	switch Kind(strings.ToLower(strings.TrimSpace(*raw.Action))) {
	case KindCreateThread:
		title := raw.Title
		if title == "" {
			title = "Untitled"
		}
		return CreateThread{Title: title, Content: raw.Content, Tags: raw.Tags}, true
	case KindReply:
		return Reply{
			ThreadID:      int64(raw.ThreadID),
			Content:       raw.Content,
			ParentReplyID: int64(raw.ParentReplyID),
		}, true
	case KindVote:
		value := 1
		if raw.Value != nil {
			value = *raw.Value
		}
		return Vote{
			ThreadID: int64(raw.ThreadID),
			ReplyID:  int64(raw.ReplyID),
			Value:    value,
			Reason:   raw.Reason,
		}, true
	case KindWebSearch:
		return WebSearch{Query: raw.Query, Reason: raw.Reason}, true
	default:
		// Unknown action values degrade to do_nothing rather than failing
		// the candidate; the model did commit to a decision.
		reason := raw.Reason
		if reason == "" {
			reason = "No specific reason"
		}
		return DoNothing{Reason: reason}, true
	}
}
