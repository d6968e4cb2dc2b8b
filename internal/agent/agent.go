// Package agent holds the registry of role-specialized workers. Definitions
// describe what an agent can do; instances track what it is doing.
package agent

import (
	"sync"
	"time"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusWaiting Status = "waiting"
	StatusOffline Status = "offline"
)

// Capabilities describes what a registered agent is allowed to work on.
type Capabilities struct {
	Tools          []string `yaml:"tools,omitempty"`
	MaxConcurrency int      `yaml:"max_concurrency,omitempty"`
	TaskTypes      []string `yaml:"task_types,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	SystemPrompt   string   `yaml:"system_prompt,omitempty"`
}

// Definition is the static capability descriptor for an agent. It is
// immutable once registered.
type Definition struct {
	ID           string       `yaml:"id"`
	Name         string       `yaml:"name"`
	Role         string       `yaml:"role"`
	Description  string       `yaml:"description,omitempty"`
	Capabilities Capabilities `yaml:"capabilities,omitempty"`
	DependsOn    []string     `yaml:"depends_on,omitempty"`
	Priority     int          `yaml:"priority,omitempty"`
}

// Instance is the runtime state of a registered agent. An instance runs at
// most one task at a time; role-level parallelism comes from registering
// multiple instances of the same role.
type Instance struct {
	Definition *Definition

	mu             sync.RWMutex
	status         Status
	currentTaskID  string
	completedTasks int
	failedTasks    int
	createdAt      time.Time
	lastActivity   time.Time
}

func newInstance(def *Definition) *Instance {
	now := time.Now()
	return &Instance{
		Definition:   def,
		status:       StatusIdle,
		createdAt:    now,
		lastActivity: now,
	}
}

func (a *Instance) ID() string   { return a.Definition.ID }
func (a *Instance) Role() string { return a.Definition.Role }

func (a *Instance) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Instance) SetStatus(status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	a.lastActivity = time.Now()
}

// CurrentTaskID returns the task this agent is working on, or "" when idle.
func (a *Instance) CurrentTaskID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentTaskID
}

// AssignTask marks the agent busy with the given task. The scheduler keeps
// this mirrored with the task's assignedAgent field.
func (a *Instance) AssignTask(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentTaskID = taskID
	a.status = StatusBusy
	a.lastActivity = time.Now()
}

// ClearTask releases the agent back to idle.
func (a *Instance) ClearTask() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentTaskID = ""
	a.status = StatusIdle
	a.lastActivity = time.Now()
}

func (a *Instance) IsAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status == StatusIdle
}

func (a *Instance) RecordCompleted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completedTasks++
	a.lastActivity = time.Now()
}

func (a *Instance) RecordFailed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedTasks++
	a.lastActivity = time.Now()
}

func (a *Instance) CompletedTasks() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.completedTasks
}

func (a *Instance) FailedTasks() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failedTasks
}

func (a *Instance) CreatedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.createdAt
}

func (a *Instance) LastActivity() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActivity
}
