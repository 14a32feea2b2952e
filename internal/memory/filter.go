package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/botastrophic/botastrophic/internal/store"
)

var keywordRe = regexp.MustCompile(`\b[a-zA-Z]{4,}\b`)

// Common words that carry no topical signal.
var stopWords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "they": {}, "been": {},
	"have": {}, "were": {}, "being": {}, "their": {}, "there": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "would": {}, "could": {}, "should": {},
	"about": {}, "into": {}, "through": {}, "during": {}, "before": {}, "after": {},
	"above": {}, "below": {}, "between": {}, "under": {}, "again": {}, "further": {},
	"then": {}, "once": {}, "here": {}, "just": {}, "only": {}, "other": {},
	"some": {}, "such": {}, "more": {}, "most": {}, "very": {}, "also": {},
	"really": {}, "think": {}, "like": {},
}

// Keywords extracts the topical keyword set from text: lowercase alphabetic
// tokens of length >= 4, minus stop words.
func Keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range keywordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[word]; !stop {
			out[word] = struct{}{}
		}
	}
	return out
}

// Filtered is the slice of warm memory relevant to the current feed.
type Filtered struct {
	Facts         []store.Fact
	Relationships []store.Relationship
	Opinions      []store.Opinion
	Interests     []string
}

// FilterRelevant scores warm memory items against the feed text by keyword
// overlap and keeps the top maxItems per category. Relationships pass
// through unscored; interests are kept when they match a feed keyword.
func FilterRelevant(memory *store.WarmMemory, feedText string, maxItems int) Filtered {
	if maxItems <= 0 {
		maxItems = 5
	}
	if memory == nil {
		return Filtered{}
	}

	feedKeywords := Keywords(feedText)

	var out Filtered
	out.Facts = topScored(memory.Facts, maxItems, func(f store.Fact) int {
		return overlap(feedKeywords, Keywords(f.Fact))
	})
	out.Opinions = topScored(memory.Opinions, maxItems, func(o store.Opinion) int {
		return overlap(feedKeywords, Keywords(o.Topic+" "+o.Stance))
	})

	out.Relationships = memory.Relationships
	if len(out.Relationships) > maxItems {
		out.Relationships = out.Relationships[:maxItems]
	}

	for _, interest := range memory.Interests {
		if len(out.Interests) >= maxItems {
			break
		}
		if interestMatches(interest, feedKeywords) {
			out.Interests = append(out.Interests, interest)
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for word := range b {
		if _, ok := a[word]; ok {
			n++
		}
	}
	return n
}

// topScored keeps items with positive score, highest first, ties in
// original order.
func topScored[T any](items []T, limit int, score func(T) int) []T {
	type scored struct {
		item  T
		score int
	}
	kept := make([]scored, 0, len(items))
	for _, item := range items {
		if s := score(item); s > 0 {
			kept = append(kept, scored{item: item, score: s})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]T, len(kept))
	for i, s := range kept {
		out[i] = s.item
	}
	return out
}

func interestMatches(interest string, feedKeywords map[string]struct{}) bool {
	lower := strings.ToLower(interest)
	if _, ok := feedKeywords[lower]; ok {
		return true
	}
	for word := range feedKeywords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// FormatFiltered renders the filtered view as prompt text.
func FormatFiltered(filtered Filtered) string {
	var sections []string

	if len(filtered.Relationships) > 0 {
		lines := make([]string, 0, len(filtered.Relationships))
		for _, rel := range filtered.Relationships {
			sentiment := rel.Sentiment
			if sentiment == "" {
				sentiment = "unknown"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s (%s)", rel.Bot, sentiment, rel.Notes))
		}
		sections = append(sections, "Your relationships:\n"+strings.Join(lines, "\n"))
	}

	if len(filtered.Facts) > 0 {
		lines := make([]string, 0, len(filtered.Facts))
		for _, fact := range filtered.Facts {
			lines = append(lines, "- "+fact.Fact)
		}
		sections = append(sections, "Relevant things you know:\n"+strings.Join(lines, "\n"))
	}

	if len(filtered.Opinions) > 0 {
		lines := make([]string, 0, len(filtered.Opinions))
		for _, op := range filtered.Opinions {
			lines = append(lines, fmt.Sprintf("- %s: %s", op.Topic, op.Stance))
		}
		sections = append(sections, "Your opinions on related topics:\n"+strings.Join(lines, "\n"))
	}

	if len(filtered.Interests) > 0 {
		sections = append(sections, "Your relevant interests: "+strings.Join(filtered.Interests, ", "))
	}

	if len(sections) == 0 {
		return "No specific memories related to current topics."
	}
	return strings.Join(sections, "\n\n")
}
