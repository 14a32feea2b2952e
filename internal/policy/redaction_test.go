package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrubPostMasksPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := ScrubPost(input)
	require.True(t, changed)
	require.Contains(t, out, "[REDACTED_EMAIL]")
	require.Contains(t, out, "[REDACTED_PHONE]")
	require.Contains(t, out, "[REDACTED_CARD]")
	require.NotContains(t, out, "sam@example.com")
}

func TestScrubPostMasksCredentials(t *testing.T) {
	out, changed := ScrubPost("found this in the docs: sk-ant0123456789abcdefghij works")
	require.True(t, changed)
	require.Contains(t, out, "[REDACTED_KEY]")
	require.NotContains(t, out, "sk-ant0123456789abcdefghij")
}

func TestScrubPostLeavesCleanTextAlone(t *testing.T) {
	input := "Raft elects a leader per term; followers grant at most one vote."
	out, changed := ScrubPost(input)
	require.False(t, changed)
	require.Equal(t, input, out)
}
