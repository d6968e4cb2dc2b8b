package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/taskmesh/taskmesh/internal/event"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/task"
	"github.com/taskmesh/taskmesh/pkg/clog"
	"github.com/taskmesh/taskmesh/pkg/oerr"
)

const defaultLoopLimit = 25

// Engine executes workflow definitions by turning steps into scheduled
// tasks. One engine serves one orchestrator session; executions may run
// concurrently.
type Engine struct {
	mu        sync.RWMutex
	sched     *scheduler.Scheduler
	bus       *event.Bus
	workflows map[string]*Definition
	instances map[string]*Instance

	loopLimit int
}

type Option func(*Engine)

// WithLoopIterationLimit sets the ceiling applied to loop steps that do
// not declare their own MaxIterations.
func WithLoopIterationLimit(n int) Option {
	return func(e *Engine) {
		e.loopLimit = n
	}
}

func New(sched *scheduler.Scheduler, bus *event.Bus, opts ...Option) *Engine {
	e := &Engine{
		sched:     sched,
		bus:       bus,
		workflows: make(map[string]*Definition),
		instances: make(map[string]*Instance),
		loopLimit: defaultLoopLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register validates and stores a workflow definition.
func (e *Engine) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.ID]; exists {
		return oerr.Newf(oerr.InvalidDefinition, "workflow %s already registered", def.ID)
	}
	e.workflows[def.ID] = def
	return nil
}

func (e *Engine) Get(id string) (*Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, exists := e.workflows[id]
	if !exists {
		return nil, oerr.Newf(oerr.UnknownWorkflow, "workflow %s does not exist", id)
	}
	return def, nil
}

func (e *Engine) Instance(id string) (*Instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, exists := e.instances[id]
	if !exists {
		return nil, oerr.Newf(oerr.UnknownWorkflow, "workflow instance %s does not exist", id)
	}
	return inst, nil
}

// Execute runs one instance of the workflow to completion. The error
// return covers lookup failures only; a failed execution comes back as an
// instance with status failed and the originating error attached.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any) (*Instance, error) {
	def, err := e.Get(workflowID)
	if err != nil {
		return nil, err
	}

	inst := newInstance(def, input)
	e.mu.Lock()
	e.instances[inst.ID()] = inst
	e.mu.Unlock()

	// Every record logged during this execution carries the workflow and
	// instance ids through the context attributes handler.
	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttribute(ctx, "workflow_id", def.ID)
	clog.AddAttribute(ctx, "instance_id", inst.ID())

	inst.setStatus(StatusRunning)
	e.bus.Publish(ctx, event.WorkflowStarted, "workflow", event.WorkflowStartedData{
		InstanceID: inst.ID(),
		WorkflowID: def.ID,
	})
	slog.InfoContext(ctx, "workflow: started")

	// Steps run in declaration order. A failed step does not abort the
	// workflow; only steps depending on it are blocked, independent ones
	// still run.
	failed := make(map[string]bool)
	for _, step := range def.Steps {
		if blocker := firstFailedDep(step, failed); blocker != "" {
			failed[step.ID] = true
			inst.setErr(oerr.Newf(oerr.DependencyFailed,
				"step %s blocked by failed step %s", step.ID, blocker))
			continue
		}
		if err := e.runStep(ctx, inst, step, frame{}); err != nil {
			failed[step.ID] = true
			inst.setErr(err)
			slog.WarnContext(ctx, "workflow: step failed",
				"step_id", step.ID,
				"error", err,
			)
		}
	}

	if len(failed) > 0 {
		inst.setStatus(StatusFailed)
		e.bus.Publish(ctx, event.WorkflowFailed, "workflow", event.WorkflowFailedData{
			InstanceID: inst.ID(),
			WorkflowID: def.ID,
			Error:      inst.Err().Error(),
		})
		return inst, nil
	}

	inst.setStatus(StatusCompleted)
	e.bus.Publish(ctx, event.WorkflowCompleted, "workflow", event.WorkflowCompletedData{
		InstanceID: inst.ID(),
		WorkflowID: def.ID,
		DurationMS: inst.Duration().Milliseconds(),
	})
	slog.InfoContext(ctx, "workflow: completed", "duration", inst.Duration())
	return inst, nil
}

func firstFailedDep(step *Step, failed map[string]bool) string {
	for _, dep := range step.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

// frame carries state local to one branch of the step tree: the task id
// scope and the loop variables visible to interpolation and conditions in
// that branch. Frames flow down, never back up, so loops in sibling
// parallel branches count independently instead of sharing one counter
// through the workflow context.
type frame struct {
	scope string
	vars  map[string]any
}

func (f frame) withVar(key string, value any) frame {
	vars := make(map[string]any, len(f.vars)+1)
	for k, v := range f.vars {
		vars[k] = v
	}
	vars[key] = value
	return frame{scope: f.scope, vars: vars}
}

func (f frame) withScope(scope string) frame {
	return frame{scope: scope, vars: f.vars}
}

// snapshot merges the shared workflow context with the frame's loop
// variables. Frame values shadow shared ones.
func snapshot(wf *Instance, f frame) map[string]any {
	ctx := wf.Context()
	for k, v := range f.vars {
		ctx[k] = v
	}
	return ctx
}

// runStep dispatches on the step variant. The frame's scope namespaces
// task ids so loop iterations (and concurrent executions) never collide in
// the task store.
func (e *Engine) runStep(ctx context.Context, wf *Instance, step *Step, f frame) error {
	var err error
	switch {
	case step.Task != nil:
		err = e.runTaskStep(ctx, wf, step, f)
	case step.Parallel != nil:
		err = e.runParallelStep(ctx, wf, step, f)
	case step.Conditional != nil:
		err = e.runConditionalStep(ctx, wf, step, f)
	case step.Loop != nil:
		err = e.runLoopStep(ctx, wf, step, f)
	default:
		err = oerr.Newf(oerr.InvalidDefinition, "step %s carries no variant", step.ID)
	}
	if err != nil {
		return err
	}

	wf.markStepCompleted(step.ID)
	e.bus.Publish(ctx, event.WorkflowStepCompleted, "workflow", event.WorkflowStepCompletedData{
		InstanceID: wf.ID(),
		StepID:     step.ID,
	})
	return nil
}

// runTaskStep resolves, creates, and queues every task in the step, then
// waits for all of them. Each completed task injects task_<id> = output
// into the workflow context; failures are collected, not short-circuited.
func (e *Engine) runTaskStep(ctx context.Context, wf *Instance, step *Step, f frame) error {
	resolved := snapshot(wf, f)
	prefix := fmt.Sprintf("%s.%s%s.", wf.ID(), f.scope, step.ID)

	type queued struct {
		scopedID   string
		authoredID string
	}
	var created []queued
	for _, def := range step.Task.Tasks {
		clone := def.Clone()
		clone.Input = interpolateInput(clone.Input, resolved)
		authoredID := clone.ID
		clone.ID = prefix + authoredID
		for i, dep := range clone.DependsOn {
			clone.DependsOn[i] = prefix + dep
		}

		inst, err := e.sched.CreateTask(ctx, clone)
		if err != nil {
			return err
		}
		wf.addTask(inst)
		if err := e.sched.QueueTask(ctx, clone.ID); err != nil {
			return err
		}
		created = append(created, queued{scopedID: clone.ID, authoredID: authoredID})
	}

	var errs []error
	for _, q := range created {
		done, err := e.sched.Wait(ctx, q.scopedID)
		if err != nil {
			return err
		}
		if done.Status() == task.StatusFailed {
			errs = append(errs, done.Err())
			continue
		}
		wf.setContextValue("task_"+q.authoredID, done.Output())
	}
	return errors.Join(errs...)
}

// runParallelStep runs every branch to its own conclusion and joins with
// wait-for-all semantics: a failing branch never cancels its siblings, and
// all branch errors are aggregated.
func (e *Engine) runParallelStep(ctx context.Context, wf *Instance, step *Step, f frame) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var wg conc.WaitGroup
	for _, branch := range step.Parallel.Branches {
		branch := branch
		wg.Go(func() {
			for _, nested := range branch {
				if err := e.runStep(ctx, wf, nested, f); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (e *Engine) runConditionalStep(ctx context.Context, wf *Instance, step *Step, f frame) error {
	if !evaluateCondition(step.Conditional.If, snapshot(wf, f)) {
		slog.DebugContext(ctx, "workflow: conditional predicate false, step skipped",
			"step_id", step.ID)
		return nil
	}
	return e.runStep(ctx, wf, step.Conditional.Then, f)
}

// runLoopStep re-runs the body until the until-condition holds. The
// iteration counter is exposed to the body and the condition as
// $iteration, starting at 1; it lives on the loop's own frame, never in
// the shared context. Exhausting the ceiling is a hard failure.
func (e *Engine) runLoopStep(ctx context.Context, wf *Instance, step *Step, f frame) error {
	limit := step.Loop.MaxIterations
	if limit <= 0 {
		limit = e.loopLimit
	}

	for i := 1; i <= limit; i++ {
		iter := f.withVar("iteration", i).withScope(fmt.Sprintf("%siter%d.", f.scope, i))
		if err := e.runStep(ctx, wf, step.Loop.Body, iter); err != nil {
			return err
		}
		if evaluateCondition(step.Loop.Until, snapshot(wf, iter)) {
			return nil
		}
	}
	return oerr.Newf(oerr.IterationLimit,
		"loop step %s did not converge within %d iterations", step.ID, limit)
}
