// Package stats aggregates engine metrics from the event stream: agent and
// task state distributions, throughput, and average task duration. Pure
// observation; the collector never reaches back into the engine.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/event"
)

type completion struct {
	at       time.Time
	duration time.Duration
}

// Collector derives metrics from lifecycle events. Attach it to the event
// bus before the bus starts.
type Collector struct {
	mu     sync.RWMutex
	window time.Duration
	now    func() time.Time

	agentStatus map[string]string
	taskStatus  map[string]string
	completions []completion

	completedTasks int
	failedTasks    int
	totalDuration  time.Duration

	workflowsStarted   int
	workflowsCompleted int
	workflowsFailed    int
	messagesSent       int
}

// Snapshot is a point-in-time view of the collected metrics. Throughput is
// completions inside the window divided by the window length in minutes.
type Snapshot struct {
	AgentsByStatus map[string]int `json:"agents_by_status"`
	TasksByStatus  map[string]int `json:"tasks_by_status"`

	CompletedTasks      int           `json:"completed_tasks"`
	FailedTasks         int           `json:"failed_tasks"`
	ThroughputPerMinute float64       `json:"throughput_per_minute"`
	AverageTaskDuration time.Duration `json:"average_task_duration"`

	WorkflowsStarted   int `json:"workflows_started"`
	WorkflowsCompleted int `json:"workflows_completed"`
	WorkflowsFailed    int `json:"workflows_failed"`
	MessagesSent       int `json:"messages_sent"`
}

func NewCollector(window time.Duration) *Collector {
	if window <= 0 {
		window = time.Hour
	}
	return &Collector{
		window:      window,
		now:         time.Now,
		agentStatus: make(map[string]string),
		taskStatus:  make(map[string]string),
	}
}

// Attach subscribes the collector to every event type it aggregates. Must
// be called before the bus starts its router.
func (c *Collector) Attach(bus *event.Bus) {
	event.Subscribe(bus, event.AgentCreated, "stats_agent_created",
		func(_ context.Context, e *event.Event[event.AgentCreatedData]) error {
			c.setAgentStatus(e.Data.AgentID, "idle")
			return nil
		})
	event.Subscribe(bus, event.AgentRemoved, "stats_agent_removed",
		func(_ context.Context, e *event.Event[event.AgentRemovedData]) error {
			c.removeAgent(e.Data.AgentID)
			return nil
		})
	event.Subscribe(bus, event.AgentStatusChanged, "stats_agent_status",
		func(_ context.Context, e *event.Event[event.AgentStatusChangedData]) error {
			c.setAgentStatus(e.Data.AgentID, e.Data.ToStatus)
			return nil
		})

	event.Subscribe(bus, event.TaskCreated, "stats_task_created",
		func(_ context.Context, e *event.Event[event.TaskCreatedData]) error {
			c.setTaskStatus(e.Data.TaskID, "pending")
			return nil
		})
	event.Subscribe(bus, event.TaskQueued, "stats_task_queued",
		func(_ context.Context, e *event.Event[event.TaskQueuedData]) error {
			c.setTaskStatus(e.Data.TaskID, "queued")
			return nil
		})
	event.Subscribe(bus, event.TaskAssigned, "stats_task_assigned",
		func(_ context.Context, e *event.Event[event.TaskAssignedData]) error {
			c.setTaskStatus(e.Data.TaskID, "assigned")
			return nil
		})
	event.Subscribe(bus, event.TaskStarted, "stats_task_started",
		func(_ context.Context, e *event.Event[event.TaskStartedData]) error {
			c.setTaskStatus(e.Data.TaskID, "in_progress")
			return nil
		})
	event.Subscribe(bus, event.TaskRetried, "stats_task_retried",
		func(_ context.Context, e *event.Event[event.TaskRetriedData]) error {
			c.setTaskStatus(e.Data.TaskID, "queued")
			return nil
		})
	event.Subscribe(bus, event.TaskCompleted, "stats_task_completed",
		func(_ context.Context, e *event.Event[event.TaskCompletedData]) error {
			c.recordCompleted(e.Data.TaskID, time.Duration(e.Data.DurationMS)*time.Millisecond)
			return nil
		})
	event.Subscribe(bus, event.TaskFailed, "stats_task_failed",
		func(_ context.Context, e *event.Event[event.TaskFailedData]) error {
			c.recordFailed(e.Data.TaskID)
			return nil
		})

	event.Subscribe(bus, event.WorkflowStarted, "stats_workflow_started",
		func(_ context.Context, _ *event.Event[event.WorkflowStartedData]) error {
			c.count(&c.workflowsStarted)
			return nil
		})
	event.Subscribe(bus, event.WorkflowCompleted, "stats_workflow_completed",
		func(_ context.Context, _ *event.Event[event.WorkflowCompletedData]) error {
			c.count(&c.workflowsCompleted)
			return nil
		})
	event.Subscribe(bus, event.WorkflowFailed, "stats_workflow_failed",
		func(_ context.Context, _ *event.Event[event.WorkflowFailedData]) error {
			c.count(&c.workflowsFailed)
			return nil
		})

	event.Subscribe(bus, event.MessageSent, "stats_message_sent",
		func(_ context.Context, _ *event.Event[event.MessageSentData]) error {
			c.count(&c.messagesSent)
			return nil
		})
}

func (c *Collector) setAgentStatus(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentStatus[id] = status
}

func (c *Collector) removeAgent(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agentStatus, id)
}

func (c *Collector) setTaskStatus(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskStatus[id] = status
}

func (c *Collector) recordCompleted(id string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskStatus[id] = "completed"
	c.completedTasks++
	c.totalDuration += duration
	c.completions = append(c.completions, completion{at: c.now(), duration: duration})
}

func (c *Collector) recordFailed(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskStatus[id] = "failed"
	c.failedTasks++
}

func (c *Collector) count(field *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*field++
}

// Snapshot returns the current aggregate view.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		AgentsByStatus:     make(map[string]int),
		TasksByStatus:      make(map[string]int),
		CompletedTasks:     c.completedTasks,
		FailedTasks:        c.failedTasks,
		WorkflowsStarted:   c.workflowsStarted,
		WorkflowsCompleted: c.workflowsCompleted,
		WorkflowsFailed:    c.workflowsFailed,
		MessagesSent:       c.messagesSent,
	}
	for _, status := range c.agentStatus {
		snap.AgentsByStatus[status]++
	}
	for _, status := range c.taskStatus {
		snap.TasksByStatus[status]++
	}

	cutoff := c.now().Add(-c.window)
	recent := 0
	for _, comp := range c.completions {
		if comp.at.After(cutoff) {
			recent++
		}
	}
	snap.ThroughputPerMinute = float64(recent) / c.window.Minutes()

	if c.completedTasks > 0 {
		snap.AverageTaskDuration = c.totalDuration / time.Duration(c.completedTasks)
	}
	return snap
}
