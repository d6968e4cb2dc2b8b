package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(q *Queue) []string {
	var ids []string
	for {
		id, ok := q.PopEligible(func(string) bool { return true })
		if !ok {
			return ids
		}
		ids = append(ids, id)
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Push("t-low", PriorityLow)
	q.Push("t-critical", PriorityCritical)
	q.Push("t-medium", PriorityMedium)
	q.Push("t-high", PriorityHigh)

	assert.Equal(t, []string{"t-critical", "t-high", "t-medium", "t-low"}, drain(q))
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	q.Push("first", PriorityHigh)
	q.Push("second", PriorityHigh)
	q.Push("third", PriorityHigh)

	assert.Equal(t, []string{"first", "second", "third"}, drain(q))
}

func TestQueue_PopEligibleSkips(t *testing.T) {
	q := NewQueue()
	q.Push("blocked", PriorityCritical)
	q.Push("ready", PriorityLow)

	id, ok := q.PopEligible(func(id string) bool { return id != "blocked" })
	require.True(t, ok)
	assert.Equal(t, "ready", id)

	// Skipped entries keep their place.
	assert.Equal(t, 1, q.Len())
	id, ok = q.PopEligible(func(string) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "blocked", id)
}

func TestQueue_SkippedKeepsEnqueueOrder(t *testing.T) {
	q := NewQueue()
	q.Push("a", PriorityHigh)
	q.Push("b", PriorityHigh)

	_, ok := q.PopEligible(func(string) bool { return false })
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, drain(q))
}

func TestQueue_PopEmpty(t *testing.T) {
	q := NewQueue()
	_, ok := q.PopEligible(func(string) bool { return true })
	assert.False(t, ok)
}

func TestUnknownPriorityWeighsLow(t *testing.T) {
	assert.Equal(t, PriorityLow.Weight(), Priority("bogus").Weight())
}
