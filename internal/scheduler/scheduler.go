// Package scheduler matches queued tasks to idle, role-compatible agents
// and drives the task state machine:
//
//	pending → queued → assigned → in_progress → completed
//	                          └→ failure: requeued while retries remain,
//	                             failed once the budget is exhausted.
//
// All transitions happen under one mutex, so no two transitions on the same
// entity interleave. The only suspension point is the call into the
// external executor, which runs on its own goroutine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/event"
	"github.com/taskmesh/taskmesh/internal/task"
	"github.com/taskmesh/taskmesh/pkg/clog"
	"github.com/taskmesh/taskmesh/pkg/oerr"
	"github.com/taskmesh/taskmesh/pkg/panicerr"
)

// Executor performs the actual work of a task: a language-model call, a
// tool invocation, whatever the host wires in. The scheduler calls it once
// per assignment and treats a returned error (or panic) as a failure
// subject to the task's retry budget.
type Executor interface {
	Execute(ctx context.Context, t *task.Instance, a *agent.Instance) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *task.Instance, a *agent.Instance) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, t *task.Instance, a *agent.Instance) (map[string]any, error) {
	return f(ctx, t, a)
}

const defaultMaxRetries = 3

type Scheduler struct {
	mu       sync.Mutex
	store    *task.Store
	registry *agent.Registry
	queue    *task.Queue
	executor Executor
	bus      *event.Bus
	wg       *conc.WaitGroup

	maxRetries int
}

type Option func(*Scheduler)

// WithDefaultMaxRetries overrides the retry budget applied to definitions
// that leave MaxRetries unset.
func WithDefaultMaxRetries(n int) Option {
	return func(s *Scheduler) {
		s.maxRetries = n
	}
}

func New(store *task.Store, registry *agent.Registry, executor Executor, bus *event.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		registry:   registry,
		queue:      task.NewQueue(),
		executor:   executor,
		bus:        bus,
		wg:         conc.NewWaitGroup(),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask stores a new pending instance. A definition with MaxRetries
// zero gets the engine default; a negative value means no retries.
func (s *Scheduler) CreateTask(ctx context.Context, def *task.Definition) (*task.Instance, error) {
	retries := def.MaxRetries
	switch {
	case retries == 0:
		retries = s.maxRetries
	case retries < 0:
		retries = 0
	}

	inst, err := s.store.Create(def, retries)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, event.TaskCreated, "scheduler", event.TaskCreatedData{
		TaskID:       def.ID,
		Type:         def.Type,
		Name:         def.Name,
		Priority:     string(def.Priority),
		RequiredRole: def.RequiredRole,
	})
	return inst, nil
}

// QueueTask moves a pending task into the priority queue and immediately
// tries to assign ready work.
func (s *Scheduler) QueueTask(ctx context.Context, id string) error {
	inst, err := s.store.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if inst.Status() != task.StatusPending {
		return oerr.Newf(oerr.InvalidDefinition, "task %s cannot be queued from status %s", id, inst.Status())
	}
	inst.SetStatus(task.StatusQueued)
	s.queue.Push(id, inst.Definition.Priority)

	s.bus.Publish(ctx, event.TaskQueued, "scheduler", event.TaskQueuedData{TaskID: id})

	s.dispatchLocked(ctx)
	return nil
}

// Dispatch assigns as many queued tasks as agents allow. Tasks with unmet
// dependencies keep their queue position and are skipped, not re-ranked.
// Hosts call this after registering new agents; the scheduler calls it
// itself on every queue or agent-idle transition.
func (s *Scheduler) Dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(ctx)
}

func (s *Scheduler) dispatchLocked(ctx context.Context) {
	for {
		id, ok := s.queue.PopEligible(func(id string) bool {
			if !s.store.DependenciesMet(id) {
				return false
			}
			inst, err := s.store.Get(id)
			if err != nil || inst.Status() != task.StatusQueued {
				// Dropped from queue out of band (e.g. dependency
				// cascade); discard the entry.
				return true
			}
			return s.registry.FindAvailable(inst.Definition.RequiredRole) != nil
		})
		if !ok {
			return
		}

		inst, err := s.store.Get(id)
		if err != nil || inst.Status() != task.StatusQueued {
			continue
		}
		ag := s.registry.FindAvailable(inst.Definition.RequiredRole)
		if ag == nil {
			continue
		}
		s.assignLocked(ctx, inst, ag)
	}
}

func (s *Scheduler) assignLocked(ctx context.Context, inst *task.Instance, ag *agent.Instance) {
	inst.AssignTo(ag.ID())
	ag.AssignTask(inst.ID())

	s.bus.Publish(ctx, event.TaskAssigned, "scheduler", event.TaskAssignedData{
		TaskID:  inst.ID(),
		AgentID: ag.ID(),
	})
	s.bus.Publish(ctx, event.AgentStatusChanged, "scheduler", event.AgentStatusChangedData{
		AgentID:    ag.ID(),
		Role:       ag.Role(),
		FromStatus: string(agent.StatusIdle),
		ToStatus:   string(agent.StatusBusy),
	})

	slog.Debug("scheduler: task assigned", "task_id", inst.ID(), "agent_id", ag.ID())
	s.wg.Go(func() {
		s.run(ctx, inst, ag)
	})
}

// run executes one assignment on its own goroutine. Executor panics are
// recovered and reported as executor errors.
func (s *Scheduler) run(ctx context.Context, inst *task.Instance, ag *agent.Instance) {
	// Everything logged during this attempt, executor included, carries
	// the assignment ids through the context attributes handler.
	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttribute(ctx, "task_id", inst.ID())
	clog.AddAttribute(ctx, "agent_id", ag.ID())

	inst.SetStatus(task.StatusInProgress)
	s.bus.Publish(ctx, event.TaskStarted, "scheduler", event.TaskStartedData{
		TaskID:  inst.ID(),
		AgentID: ag.ID(),
	})

	output, err := panicerr.SafeValue(func() (map[string]any, error) {
		return s.executor.Execute(ctx, inst, ag)
	})
	if err != nil {
		err = oerr.New(oerr.Executor, fmt.Sprintf("executor failed for task %s", inst.ID()), err)
	}
	if reportErr := s.ReportResult(ctx, inst.ID(), output, err); reportErr != nil {
		slog.ErrorContext(ctx, "scheduler: failed to report result", "error", reportErr)
	}
}

// ReportResult settles one execution attempt. On success the task
// completes, the agent frees, and dependent work is re-evaluated. On
// failure the task is requeued while its retry budget lasts, otherwise it
// fails permanently and queued tasks depending on it are failed as well.
func (s *Scheduler) ReportResult(ctx context.Context, taskID string, output map[string]any, execErr error) error {
	inst, err := s.store.Get(taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agentID := inst.AssignedAgent()
	ag, agErr := s.registry.Get(agentID)
	if agErr != nil {
		return oerr.Newf(oerr.Internal, "task %s has no assigned agent to release", taskID)
	}

	ag.ClearTask()
	s.bus.Publish(ctx, event.AgentStatusChanged, "scheduler", event.AgentStatusChangedData{
		AgentID:    ag.ID(),
		Role:       ag.Role(),
		FromStatus: string(agent.StatusBusy),
		ToStatus:   string(agent.StatusIdle),
	})

	if execErr == nil {
		inst.SetOutput(output)
		inst.SetStatus(task.StatusCompleted)
		ag.RecordCompleted()

		s.bus.Publish(ctx, event.TaskCompleted, "scheduler", event.TaskCompletedData{
			TaskID:     taskID,
			AgentID:    ag.ID(),
			DurationMS: inst.Duration().Milliseconds(),
		})
		slog.Info("scheduler: task completed", "task_id", taskID, "agent_id", ag.ID())

		s.store.NotifyTerminal(inst)
		s.dispatchLocked(ctx)
		return nil
	}

	if inst.Retries() < inst.MaxRetries() {
		retries := inst.IncRetries()
		inst.ClearAssignment()
		inst.SetStatus(task.StatusQueued)
		s.queue.Push(taskID, inst.Definition.Priority)

		s.bus.Publish(ctx, event.TaskRetried, "scheduler", event.TaskRetriedData{
			TaskID:  taskID,
			Retries: retries,
			Error:   execErr.Error(),
		})
		slog.Warn("scheduler: task requeued after failure",
			"task_id", taskID,
			"retries", retries,
			"max_retries", inst.MaxRetries(),
			"error", execErr,
		)

		s.dispatchLocked(ctx)
		return nil
	}

	inst.SetErr(oerr.New(oerr.RetriesExhausted,
		fmt.Sprintf("task %s failed after %d retries", taskID, inst.Retries()), execErr))
	inst.SetStatus(task.StatusFailed)
	ag.RecordFailed()

	s.bus.Publish(ctx, event.TaskFailed, "scheduler", event.TaskFailedData{
		TaskID:  taskID,
		AgentID: ag.ID(),
		Error:   inst.Err().Error(),
	})
	slog.Error("scheduler: task failed permanently", "task_id", taskID, "error", inst.Err())

	s.store.NotifyTerminal(inst)
	s.failDependentsLocked(ctx, taskID)
	s.dispatchLocked(ctx)
	return nil
}

// failDependentsLocked fails every non-terminal task whose dependency chain
// includes the failed task. Without this, dependents would sit in the queue
// forever waiting on a prerequisite that can never complete.
func (s *Scheduler) failDependentsLocked(ctx context.Context, failedID string) {
	failed := map[string]bool{failedID: true}
	for {
		progressed := false
		for _, inst := range s.store.List() {
			if failed[inst.ID()] || inst.Status().Terminal() {
				continue
			}
			for _, dep := range inst.Definition.DependsOn {
				if !failed[dep] {
					continue
				}
				inst.SetErr(oerr.Newf(oerr.DependencyFailed,
					"task %s depends on failed task %s", inst.ID(), dep))
				inst.SetStatus(task.StatusFailed)

				s.bus.Publish(ctx, event.TaskFailed, "scheduler", event.TaskFailedData{
					TaskID: inst.ID(),
					Error:  inst.Err().Error(),
				})
				s.store.NotifyTerminal(inst)
				failed[inst.ID()] = true
				progressed = true
				break
			}
		}
		if !progressed {
			return
		}
	}
}

// Wait blocks until the task reaches a terminal status or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, taskID string) (*task.Instance, error) {
	ch, err := s.store.Watch(taskID)
	if err != nil {
		return nil, err
	}
	select {
	case inst := <-ch:
		return inst, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close waits for in-flight executor goroutines to settle.
func (s *Scheduler) Close() {
	s.wg.Wait()
}
