package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/event"
)

func TestCollector_Snapshot(t *testing.T) {
	c := NewCollector(time.Hour)

	c.setAgentStatus("a1", "idle")
	c.setAgentStatus("a2", "idle")
	c.setAgentStatus("a2", "busy")

	c.setTaskStatus("t1", "pending")
	c.setTaskStatus("t1", "queued")
	c.setTaskStatus("t2", "in_progress")
	c.recordCompleted("t2", 2*time.Second)
	c.recordCompleted("t3", 4*time.Second)
	c.recordFailed("t4")

	snap := c.Snapshot()
	assert.Equal(t, map[string]int{"idle": 1, "busy": 1}, snap.AgentsByStatus)
	assert.Equal(t, map[string]int{"queued": 1, "completed": 2, "failed": 1}, snap.TasksByStatus)
	assert.Equal(t, 2, snap.CompletedTasks)
	assert.Equal(t, 1, snap.FailedTasks)
	assert.Equal(t, 3*time.Second, snap.AverageTaskDuration)
}

func TestCollector_ThroughputWindow(t *testing.T) {
	c := NewCollector(10 * time.Minute)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	// Two completions fall outside the window, three inside.
	c.recordCompleted("old-1", time.Second)
	c.recordCompleted("old-2", time.Second)
	current = base.Add(30 * time.Minute)
	for _, id := range []string{"t1", "t2", "t3"} {
		c.recordCompleted(id, time.Second)
	}

	snap := c.Snapshot()
	assert.InDelta(t, 0.3, snap.ThroughputPerMinute, 1e-9)
}

func TestCollector_RemovedAgentLeavesCounts(t *testing.T) {
	c := NewCollector(0)
	c.setAgentStatus("a1", "idle")
	c.setAgentStatus("a2", "idle")
	c.removeAgent("a1")

	snap := c.Snapshot()
	assert.Equal(t, map[string]int{"idle": 1}, snap.AgentsByStatus)
}

func TestCollector_AttachObservesBus(t *testing.T) {
	bus, err := event.NewBus(16)
	require.NoError(t, err)

	c := NewCollector(time.Hour)
	c.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Start(ctx)
	}()
	<-bus.Running()
	defer func() {
		_ = bus.Stop()
	}()

	bus.Publish(ctx, event.AgentCreated, "test", event.AgentCreatedData{AgentID: "a1", Role: "coder"})
	bus.Publish(ctx, event.TaskCreated, "test", event.TaskCreatedData{TaskID: "t1"})
	bus.Publish(ctx, event.TaskCompleted, "test", event.TaskCompletedData{TaskID: "t1", DurationMS: 1500})
	bus.Publish(ctx, event.WorkflowStarted, "test", event.WorkflowStartedData{InstanceID: "w1"})
	bus.Publish(ctx, event.MessageSent, "test", event.MessageSentData{MessageID: "m1"})

	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return snap.AgentsByStatus["idle"] == 1 &&
			snap.CompletedTasks == 1 &&
			snap.WorkflowsStarted == 1 &&
			snap.MessagesSent == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, 1500*time.Millisecond, snap.AverageTaskDuration)
}
