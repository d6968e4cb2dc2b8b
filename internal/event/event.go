// Package event defines the engine's lifecycle event stream. Components
// publish typed events; external sinks (loggers, UIs, the stats collector)
// subscribe. Absence of subscribers never affects engine behavior.
package event

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies a lifecycle event category. One topic per type.
type Type string

const (
	AgentCreated       Type = "agent.created"
	AgentRemoved       Type = "agent.removed"
	AgentStatusChanged Type = "agent.status_changed"

	TaskCreated   Type = "task.created"
	TaskQueued    Type = "task.queued"
	TaskAssigned  Type = "task.assigned"
	TaskStarted   Type = "task.started"
	TaskCompleted Type = "task.completed"
	TaskRetried   Type = "task.retried"
	TaskFailed    Type = "task.failed"

	WorkflowStarted       Type = "workflow.started"
	WorkflowStepCompleted Type = "workflow.step_completed"
	WorkflowCompleted     Type = "workflow.completed"
	WorkflowFailed        Type = "workflow.failed"

	MessageSent Type = "message.sent"
)

// Event is a typed lifecycle event.
type Event[T any] struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      T         `json:"data"`
}

// Envelope is the serialized transport form of an event.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

func New[T any](typ Type, source string, data T) *Event[T] {
	return &Event[T]{
		ID:        ulid.Make().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

func (e *Event[T]) Envelope() (*Envelope, error) {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Data:      raw,
	}, nil
}

func FromEnvelope[T any](env *Envelope) (*Event[T], error) {
	var data T
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, err
	}
	return &Event[T]{
		ID:        env.ID,
		Type:      env.Type,
		Timestamp: env.Timestamp,
		Source:    env.Source,
		Data:      data,
	}, nil
}

// Payload structs, one per event family.

type AgentCreatedData struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

type AgentRemovedData struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

type AgentStatusChangedData struct {
	AgentID    string `json:"agent_id"`
	Role       string `json:"role"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

type TaskCreatedData struct {
	TaskID       string `json:"task_id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
	Priority     string `json:"priority"`
	RequiredRole string `json:"required_role"`
}

type TaskQueuedData struct {
	TaskID string `json:"task_id"`
}

type TaskAssignedData struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

type TaskStartedData struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

type TaskCompletedData struct {
	TaskID     string `json:"task_id"`
	AgentID    string `json:"agent_id"`
	DurationMS int64  `json:"duration_ms"`
}

type TaskRetriedData struct {
	TaskID  string `json:"task_id"`
	Retries int    `json:"retries"`
	Error   string `json:"error"`
}

type TaskFailedData struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Error   string `json:"error"`
}

type WorkflowStartedData struct {
	InstanceID string `json:"instance_id"`
	WorkflowID string `json:"workflow_id"`
}

type WorkflowStepCompletedData struct {
	InstanceID string `json:"instance_id"`
	StepID     string `json:"step_id"`
}

type WorkflowCompletedData struct {
	InstanceID string `json:"instance_id"`
	WorkflowID string `json:"workflow_id"`
	DurationMS int64  `json:"duration_ms"`
}

type WorkflowFailedData struct {
	InstanceID string `json:"instance_id"`
	WorkflowID string `json:"workflow_id"`
	Error      string `json:"error"`
}

type MessageSentData struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Broadcast bool   `json:"broadcast"`
}
