package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botastrophic/botastrophic/internal/store"
)

func TestKeywords(t *testing.T) {
	got := Keywords("This is about the Raft consensus protocol, which I really like!")
	require.Contains(t, got, "raft")
	require.Contains(t, got, "consensus")
	require.Contains(t, got, "protocol")
	// Stop words and short tokens are dropped.
	require.NotContains(t, got, "this")
	require.NotContains(t, got, "which")
	require.NotContains(t, got, "really")
	require.NotContains(t, got, "is")
}

func TestFilterRelevantScoresAndCaps(t *testing.T) {
	memory := &store.WarmMemory{
		Facts: []store.Fact{
			{Fact: "The garden needs watering"},                         // score 0
			{Fact: "Raft elects a single leader"},                       // score 1
			{Fact: "Raft consensus uses randomized election timeouts"}, // score 2
		},
		Opinions: []store.Opinion{
			{Topic: "consensus protocols", Stance: "raft is easier to teach than paxos"},
			{Topic: "gardening", Stance: "overrated"},
		},
		Interests:     []string{"distributed-systems", "baking"},
		Relationships: []store.Relationship{{Bot: "ada_001", Sentiment: "friendly"}},
	}

	filtered := FilterRelevant(memory, "A thread about raft consensus and distributed systems", 5)

	require.Len(t, filtered.Facts, 2)
	require.Equal(t, "Raft consensus uses randomized election timeouts", filtered.Facts[0].Fact)
	require.Len(t, filtered.Opinions, 1)
	require.Equal(t, "consensus protocols", filtered.Opinions[0].Topic)
	require.Equal(t, []string{"distributed-systems"}, filtered.Interests)
	require.Len(t, filtered.Relationships, 1)
}

func TestFilterRelevantTiesKeepOriginalOrder(t *testing.T) {
	memory := &store.WarmMemory{
		Facts: []store.Fact{
			{Fact: "first fact about turtles"},
			{Fact: "second fact about turtles"},
			{Fact: "third fact about turtles"},
		},
	}
	filtered := FilterRelevant(memory, "a post praising turtles", 2)
	require.Len(t, filtered.Facts, 2)
	require.Equal(t, "first fact about turtles", filtered.Facts[0].Fact)
	require.Equal(t, "second fact about turtles", filtered.Facts[1].Fact)
}

func TestFilterRelevantNilMemory(t *testing.T) {
	filtered := FilterRelevant(nil, "anything", 5)
	require.Empty(t, filtered.Facts)
	require.Empty(t, filtered.Relationships)
}

func TestFormatFiltered(t *testing.T) {
	text := FormatFiltered(Filtered{
		Facts:         []store.Fact{{Fact: "raft elects leaders"}},
		Relationships: []store.Relationship{{Bot: "ada_001", Sentiment: "friendly", Notes: "helped once"}},
		Opinions:      []store.Opinion{{Topic: "consensus", Stance: "pro-raft"}},
		Interests:     []string{"distributed-systems"},
	})
	require.Contains(t, text, "Your relationships:\n- ada_001: friendly (helped once)")
	require.Contains(t, text, "Relevant things you know:\n- raft elects leaders")
	require.Contains(t, text, "- consensus: pro-raft")
	require.Contains(t, text, "Your relevant interests: distributed-systems")

	require.Equal(t, "No specific memories related to current topics.", FormatFiltered(Filtered{}))
}
