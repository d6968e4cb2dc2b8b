// Package workflow interprets declarative step graphs into scheduled tasks.
// A workflow definition is an ordered list of steps; each step is exactly
// one of: task, parallel, conditional, loop.
package workflow

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/taskmesh/taskmesh/internal/task"
	"github.com/taskmesh/taskmesh/pkg/oerr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Definition is an authored workflow. Step order is declaration order;
// dependencies may only point at earlier steps.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Steps       []*Step `yaml:"steps"`
	// Schemas document the expected context shape. The engine does not
	// enforce them.
	InputSchema  map[string]string `yaml:"input_schema,omitempty"`
	OutputSchema map[string]string `yaml:"output_schema,omitempty"`
}

// Step is a closed sum: exactly one of Task, Parallel, Conditional, Loop
// is set. The YAML shape mirrors that (one keyed sub-document per kind).
type Step struct {
	ID        string   `yaml:"id"`
	DependsOn []string `yaml:"depends_on,omitempty"`

	Task        *TaskStep        `yaml:"task,omitempty"`
	Parallel    *ParallelStep    `yaml:"parallel,omitempty"`
	Conditional *ConditionalStep `yaml:"conditional,omitempty"`
	Loop        *LoopStep        `yaml:"loop,omitempty"`
}

// TaskStep creates and queues its task definitions, then waits for all of
// them. Sibling tasks may depend on each other via Definition.DependsOn.
type TaskStep struct {
	Tasks []*task.Definition `yaml:"tasks"`
}

// ParallelStep runs each branch concurrently. Within a branch, steps run
// in order; a failed step halts its own branch only.
type ParallelStep struct {
	Branches [][]*Step `yaml:"branches"`
}

// ConditionalStep runs Then only when If evaluates true against the
// current context. A false predicate completes the step with no tasks.
type ConditionalStep struct {
	If   string `yaml:"if"`
	Then *Step  `yaml:"then"`
}

// LoopStep re-runs Body until Until evaluates true. Hitting MaxIterations
// (or the engine ceiling when zero) before the condition holds fails the
// step with an iteration-limit error.
type LoopStep struct {
	Body          *Step  `yaml:"body"`
	Until         string `yaml:"until"`
	MaxIterations int    `yaml:"max_iterations,omitempty"`
}

// Kind names the variant a step carries, for logs and events.
func (s *Step) Kind() string {
	switch {
	case s.Task != nil:
		return "task"
	case s.Parallel != nil:
		return "parallel"
	case s.Conditional != nil:
		return "conditional"
	case s.Loop != nil:
		return "loop"
	}
	return "invalid"
}

// Validate checks structural soundness: unique step ids, exactly one
// variant per step, dependencies referencing earlier declared steps, and
// well-formed nested steps.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return oerr.New(oerr.InvalidDefinition, "workflow requires an id", nil)
	}
	if len(d.Steps) == 0 {
		return oerr.Newf(oerr.InvalidDefinition, "workflow %s has no steps", d.ID)
	}

	declared := make(map[string]bool)
	for _, step := range d.Steps {
		if err := validateStep(d.ID, step); err != nil {
			return err
		}
		if declared[step.ID] {
			return oerr.Newf(oerr.InvalidDefinition, "workflow %s declares step %s twice", d.ID, step.ID)
		}
		for _, dep := range step.DependsOn {
			if !declared[dep] {
				return oerr.Newf(oerr.InvalidDefinition,
					"workflow %s: step %s depends on %s, which is not declared before it", d.ID, step.ID, dep)
			}
		}
		declared[step.ID] = true
	}
	return nil
}

func validateStep(workflowID string, step *Step) error {
	if step == nil || step.ID == "" {
		return oerr.Newf(oerr.InvalidDefinition, "workflow %s has a step without an id", workflowID)
	}

	variants := 0
	for _, set := range []bool{step.Task != nil, step.Parallel != nil, step.Conditional != nil, step.Loop != nil} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return oerr.Newf(oerr.InvalidDefinition,
			"workflow %s: step %s must carry exactly one of task, parallel, conditional, loop", workflowID, step.ID)
	}

	switch {
	case step.Task != nil:
		if len(step.Task.Tasks) == 0 {
			return oerr.Newf(oerr.InvalidDefinition, "workflow %s: task step %s has no tasks", workflowID, step.ID)
		}
		siblings := make(map[string]bool, len(step.Task.Tasks))
		for _, t := range step.Task.Tasks {
			if t == nil || t.ID == "" {
				return oerr.Newf(oerr.InvalidDefinition, "workflow %s: step %s has a task without an id", workflowID, step.ID)
			}
			if t.RequiredRole == "" {
				return oerr.Newf(oerr.InvalidDefinition, "workflow %s: task %s requires a role", workflowID, t.ID)
			}
			if siblings[t.ID] {
				return oerr.Newf(oerr.InvalidDefinition, "workflow %s: step %s declares task %s twice", workflowID, step.ID, t.ID)
			}
			siblings[t.ID] = true
		}
		for _, t := range step.Task.Tasks {
			for _, dep := range t.DependsOn {
				if !siblings[dep] {
					return oerr.Newf(oerr.InvalidDefinition,
						"workflow %s: task %s depends on %s, which is not a sibling in step %s", workflowID, t.ID, dep, step.ID)
				}
			}
		}
	case step.Parallel != nil:
		if len(step.Parallel.Branches) == 0 {
			return oerr.Newf(oerr.InvalidDefinition, "workflow %s: parallel step %s has no branches", workflowID, step.ID)
		}
		for _, branch := range step.Parallel.Branches {
			for _, nested := range branch {
				if err := validateStep(workflowID, nested); err != nil {
					return err
				}
			}
		}
	case step.Conditional != nil:
		if step.Conditional.If == "" || step.Conditional.Then == nil {
			return oerr.Newf(oerr.InvalidDefinition,
				"workflow %s: conditional step %s requires a predicate and a then step", workflowID, step.ID)
		}
		return validateStep(workflowID, step.Conditional.Then)
	case step.Loop != nil:
		if step.Loop.Body == nil {
			return oerr.Newf(oerr.InvalidDefinition, "workflow %s: loop step %s requires a body", workflowID, step.ID)
		}
		if step.Loop.Until == "" {
			return oerr.Newf(oerr.InvalidDefinition, "workflow %s: loop step %s requires an until condition", workflowID, step.ID)
		}
		if step.Loop.MaxIterations < 0 {
			return oerr.Newf(oerr.InvalidDefinition, "workflow %s: loop step %s has a negative iteration limit", workflowID, step.ID)
		}
		return validateStep(workflowID, step.Loop.Body)
	}
	return nil
}

// Instance is one execution of a workflow definition. The context map is
// seeded from the caller's input and grows a task_<id> entry for every
// completed task, so later steps can reference earlier outputs.
type Instance struct {
	Definition *Definition

	mu             sync.RWMutex
	id             string
	status         Status
	context        map[string]any
	completedSteps []string
	stepSeen       map[string]bool
	tasks          map[string]*task.Instance
	err            error
	startedAt      time.Time
	completedAt    time.Time
}

func newInstance(def *Definition, input map[string]any) *Instance {
	ctx := make(map[string]any, len(input))
	for k, v := range input {
		ctx[k] = v
	}
	return &Instance{
		Definition: def,
		id:         ulid.Make().String(),
		status:     StatusPending,
		context:    ctx,
		stepSeen:   make(map[string]bool),
		tasks:      make(map[string]*task.Instance),
	}
}

func (w *Instance) ID() string { return w.id }

func (w *Instance) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Instance) setStatus(status Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	switch status {
	case StatusRunning:
		w.startedAt = time.Now()
	case StatusCompleted, StatusFailed:
		w.completedAt = time.Now()
	}
}

// Context returns a snapshot of the current context map.
func (w *Instance) Context() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snapshot := make(map[string]any, len(w.context))
	for k, v := range w.context {
		snapshot[k] = v
	}
	return snapshot
}

func (w *Instance) setContextValue(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.context[key] = value
}

// CompletedSteps returns step ids in completion order, each at most once.
func (w *Instance) CompletedSteps() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.completedSteps...)
}

func (w *Instance) markStepCompleted(stepID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stepSeen[stepID] {
		return
	}
	w.stepSeen[stepID] = true
	w.completedSteps = append(w.completedSteps, stepID)
}

// StepCompleted reports whether the given step has completed at least once.
func (w *Instance) StepCompleted(stepID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stepSeen[stepID]
}

func (w *Instance) addTask(inst *task.Instance) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks[inst.ID()] = inst
}

// Task returns the task instance created under the given scoped id.
func (w *Instance) Task(id string) (*task.Instance, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	inst, ok := w.tasks[id]
	return inst, ok
}

// Tasks returns all task instances this workflow created.
func (w *Instance) Tasks() []*task.Instance {
	w.mu.RLock()
	defer w.mu.RUnlock()
	tasks := make([]*task.Instance, 0, len(w.tasks))
	for _, inst := range w.tasks {
		tasks = append(tasks, inst)
	}
	return tasks
}

func (w *Instance) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

func (w *Instance) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *Instance) StartedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.startedAt
}

func (w *Instance) CompletedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.completedAt
}

// Duration returns the wall-clock run time, zero until the workflow ends.
func (w *Instance) Duration() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.startedAt.IsZero() || w.completedAt.IsZero() {
		return 0
	}
	return w.completedAt.Sub(w.startedAt)
}
