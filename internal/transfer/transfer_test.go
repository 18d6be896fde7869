package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusSuperseded.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("lost")
	assert.Error(t, err)
}

func TestRetryHistory_Next(t *testing.T) {
	var h RetryHistory
	for i, w := range []string{"w1", "w2", "w3"} {
		prev := h
		h = h.Next(w)
		assert.Equal(t, i+1, h.Count)
		assert.Equal(t, i, prev.Count, "Next must not mutate the receiver")
	}
	assert.Equal(t, []string{"w1", "w2", "w3"}, h.Workers)

	unassigned := RetryHistory{Count: 1, Workers: []string{"w1"}}.Next("")
	assert.Equal(t, 2, unassigned.Count)
	assert.Equal(t, []string{"w1"}, unassigned.Workers)
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(Position{0, 0}, Position{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, Distance(Position{7, 7}, Position{7, 7}), 1e-9)
	assert.InDelta(t, 800.0, Distance(Position{-400, 0}, Position{400, 0}), 1e-9)
}
