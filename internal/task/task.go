// Package task holds task definitions, run-state, and the priority queue
// the scheduler drains.
package task

import (
	"sync"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight returns the scheduling weight for a priority. Unknown priorities
// weigh the same as low so malformed definitions still drain.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 1000
	case PriorityHigh:
		return 100
	case PriorityMedium:
		return 10
	default:
		return 1
	}
}

// Definition describes one unit of work. Input values may be literals or
// "$name" references resolved against the invoking workflow context.
type Definition struct {
	ID           string         `yaml:"id"`
	Type         string         `yaml:"type,omitempty"`
	Name         string         `yaml:"name,omitempty"`
	Description  string         `yaml:"description,omitempty"`
	Input        map[string]any `yaml:"input,omitempty"`
	RequiredRole string         `yaml:"required_role"`
	Priority     Priority       `yaml:"priority,omitempty"`
	// MaxRetries of zero means "use the engine default".
	MaxRetries int      `yaml:"max_retries,omitempty"`
	DependsOn  []string `yaml:"depends_on,omitempty"`
}

// Clone returns a copy with its own input map, so interpolation never
// mutates the authored definition.
func (d *Definition) Clone() *Definition {
	clone := *d
	clone.Input = make(map[string]any, len(d.Input))
	for k, v := range d.Input {
		clone.Input[k] = v
	}
	clone.DependsOn = append([]string(nil), d.DependsOn...)
	return &clone
}

// Instance is the run-state of one task. Transitions are driven exclusively
// by the scheduler; everything else reads.
type Instance struct {
	Definition *Definition

	mu            sync.RWMutex
	status        Status
	assignedAgent string
	retries       int
	maxRetries    int
	output        map[string]any
	err           error
	createdAt     time.Time
	startedAt     time.Time
	completedAt   time.Time
}

func newInstance(def *Definition, maxRetries int) *Instance {
	return &Instance{
		Definition: def,
		status:     StatusPending,
		maxRetries: maxRetries,
		createdAt:  time.Now(),
	}
}

func (t *Instance) ID() string { return t.Definition.ID }

func (t *Instance) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Instance) SetStatus(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	switch status {
	case StatusInProgress:
		t.startedAt = time.Now()
	case StatusCompleted, StatusFailed:
		t.completedAt = time.Now()
	}
}

// AssignedAgent returns the agent currently holding this task, or "".
func (t *Instance) AssignedAgent() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.assignedAgent
}

func (t *Instance) AssignTo(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assignedAgent = agentID
	t.status = StatusAssigned
}

func (t *Instance) ClearAssignment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assignedAgent = ""
}

func (t *Instance) Retries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retries
}

func (t *Instance) MaxRetries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxRetries
}

// IncRetries bumps the retry counter and returns the new value.
func (t *Instance) IncRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	return t.retries
}

func (t *Instance) Output() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.output
}

func (t *Instance) SetOutput(output map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = output
}

func (t *Instance) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *Instance) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *Instance) CreatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.createdAt
}

func (t *Instance) StartedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt
}

func (t *Instance) CompletedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completedAt
}

// Duration returns how long the task ran, zero until it finishes.
func (t *Instance) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt.IsZero() || t.completedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.startedAt)
}
