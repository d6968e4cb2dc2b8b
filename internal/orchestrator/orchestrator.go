// Package orchestrator wires the engine together: registry, task store,
// scheduler, workflow engine, message bus, event stream, and stats. Hosts
// construct exactly one Orchestrator per session and keep ownership of the
// executor they plug in.
package orchestrator

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/event"
	"github.com/taskmesh/taskmesh/internal/messagebus"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/stats"
	"github.com/taskmesh/taskmesh/internal/task"
	"github.com/taskmesh/taskmesh/internal/workflow"
	"github.com/taskmesh/taskmesh/pkg/panicerr"
)

type Orchestrator struct {
	bus      *event.Bus
	registry *agent.Registry
	store    *task.Store
	sched    *scheduler.Scheduler
	engine   *workflow.Engine
	messages *messagebus.Bus
	stats    *stats.Collector
}

// New builds a fully wired orchestrator. The executor is the host's
// bridge to actual work execution; the stats collector is attached to the
// event stream before the bus starts.
func New(env *config.Env, executor scheduler.Executor) (*Orchestrator, error) {
	bus, err := event.NewBus(env.EventBuffer)
	if err != nil {
		return nil, err
	}

	collector := stats.NewCollector(time.Duration(env.StatsWindowMinutes) * time.Minute)
	collector.Attach(bus)

	registry := agent.NewRegistry(bus)
	store := task.NewStore()
	sched := scheduler.New(store, registry, executor, bus,
		scheduler.WithDefaultMaxRetries(env.DefaultMaxRetries))
	engine := workflow.New(sched, bus,
		workflow.WithLoopIterationLimit(env.LoopMaxIterations))

	return &Orchestrator{
		bus:      bus,
		registry: registry,
		store:    store,
		sched:    sched,
		engine:   engine,
		messages: messagebus.New(bus),
		stats:    collector,
	}, nil
}

// Start runs the event router in the background and returns once all
// subscriptions are live. The router stops when ctx is cancelled; a panic
// on the router goroutine surfaces as an error instead of crashing the
// host.
func (o *Orchestrator) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- panicerr.SafeContext(o.bus.Start)(ctx)
	}()
	select {
	case <-o.bus.Running():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close drains in-flight executor work and shuts the event stream down.
func (o *Orchestrator) Close() error {
	o.sched.Close()
	return o.bus.Stop()
}

// Events exposes the underlying event bus for external subscribers (UIs,
// log tails). Subscriptions must be added before Start.
func (o *Orchestrator) Events() *event.Bus {
	return o.bus
}

// RegisterAgent adds an agent, opens its message inbox, and immediately
// offers it queued work.
func (o *Orchestrator) RegisterAgent(ctx context.Context, def *agent.Definition) (*agent.Instance, error) {
	inst, err := o.registry.Register(ctx, def)
	if err != nil {
		return nil, err
	}
	o.messages.Register(def.ID)
	o.sched.Dispatch(ctx)
	return inst, nil
}

// UnregisterAgent removes an idle agent and its inbox. Busy agents are
// refused.
func (o *Orchestrator) UnregisterAgent(ctx context.Context, id string) error {
	if err := o.registry.Unregister(ctx, id); err != nil {
		return err
	}
	o.messages.Unregister(id)
	return nil
}

func (o *Orchestrator) Agent(id string) (*agent.Instance, error) {
	return o.registry.Get(id)
}

func (o *Orchestrator) Agents() []*agent.Instance {
	return o.registry.List()
}

// SetAgentStatus transitions an agent between host-facing statuses
// (waiting, offline, back to idle) and re-dispatches when the agent
// becomes available again.
func (o *Orchestrator) SetAgentStatus(ctx context.Context, id string, status agent.Status) error {
	if err := o.registry.SetStatus(ctx, id, status); err != nil {
		return err
	}
	if status == agent.StatusIdle {
		o.sched.Dispatch(ctx)
	}
	return nil
}

// SubmitTask creates and queues a bare task outside any workflow.
func (o *Orchestrator) SubmitTask(ctx context.Context, def *task.Definition) (*task.Instance, error) {
	inst, err := o.sched.CreateTask(ctx, def)
	if err != nil {
		return nil, err
	}
	if err := o.sched.QueueTask(ctx, def.ID); err != nil {
		return nil, err
	}
	return inst, nil
}

// WaitTask blocks until the task settles or ctx is done.
func (o *Orchestrator) WaitTask(ctx context.Context, id string) (*task.Instance, error) {
	return o.sched.Wait(ctx, id)
}

func (o *Orchestrator) Task(id string) (*task.Instance, error) {
	return o.store.Get(id)
}

func (o *Orchestrator) Tasks() []*task.Instance {
	return o.store.List()
}

// RegisterWorkflow validates and stores a workflow definition for later
// execution.
func (o *Orchestrator) RegisterWorkflow(def *workflow.Definition) error {
	return o.engine.Register(def)
}

// ExecuteWorkflow runs one instance of a registered workflow to
// completion. Execution failures come back as instance state, not as the
// error return.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*workflow.Instance, error) {
	return o.engine.Execute(ctx, workflowID, input)
}

func (o *Orchestrator) WorkflowInstance(id string) (*workflow.Instance, error) {
	return o.engine.Instance(id)
}

// SendMessage delivers a point-to-point message, or broadcasts when to is
// empty.
func (o *Orchestrator) SendMessage(ctx context.Context, msgType, from, to string, content any) (messagebus.Message, error) {
	return o.messages.Send(ctx, msgType, from, to, content)
}

func (o *Orchestrator) Inbox(agentID string) ([]messagebus.Message, error) {
	return o.messages.Inbox(agentID)
}

// Stats returns the current metrics snapshot derived from the event
// stream.
func (o *Orchestrator) Stats() stats.Snapshot {
	return o.stats.Snapshot()
}
