package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	for i := 1; i <= 4; i++ {
		w.Observe("model_call", time.Duration(i*100)*time.Millisecond)
	}
	w.Observe("execute", 5*time.Millisecond)

	snap := w.Snapshot()
	require.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 2)

	// Sorted by stage name.
	require.Equal(t, "execute", snap.Stages[0].Stage)
	require.Equal(t, "model_call", snap.Stages[1].Stage)

	mc := snap.Stages[1]
	require.Equal(t, 4, mc.Samples)
	require.Equal(t, 400.0, mc.LastMS)
	require.Equal(t, 250.0, mc.AvgMS)
	require.Equal(t, 250.0, mc.P50MS)
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := NewStageWindow(3)
	for i := 1; i <= 5; i++ {
		w.Observe("build_prompt", time.Duration(i)*time.Millisecond)
	}
	snap := w.Snapshot()
	require.Len(t, snap.Stages, 1)
	require.Equal(t, 3, snap.Stages[0].Samples)
	require.Equal(t, 5.0, snap.Stages[0].LastMS)
}

func TestStageWindowIgnoresEmptyStage(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe("", time.Second)
	require.Empty(t, w.Snapshot().Stages)
}
