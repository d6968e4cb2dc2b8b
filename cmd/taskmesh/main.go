package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/event"
	"github.com/taskmesh/taskmesh/internal/orchestrator"
	"github.com/taskmesh/taskmesh/internal/scheduler"
	"github.com/taskmesh/taskmesh/internal/task"
	"github.com/taskmesh/taskmesh/internal/template"
	"github.com/taskmesh/taskmesh/pkg/clog"
	"github.com/taskmesh/taskmesh/pkg/storage"
)

var (
	app = kingpin.New("taskmesh", "Multi-agent task orchestration engine")

	runCmd      = app.Command("run", "Run the orchestrator with templates from storage")
	runWorkflow = runCmd.Flag("workflow", "Workflow id to execute once agents are up").String()
	runInput    = runCmd.Flag("input", "Workflow input as key=value").StringMap()

	validateCmd = app.Command("validate", "Validate all stored templates")

	agentsCmd = app.Command("agents", "List stored agent templates")

	workflowsCmd = app.Command("workflows", "List stored workflow templates")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env: %v\n", err)
		os.Exit(1)
	}
	setupLogger(env)

	store, err := setupTemplateStore(env)
	if err != nil {
		slog.Error("failed to set up template storage", "error", err)
		os.Exit(1)
	}

	switch command {
	case runCmd.FullCommand():
		if err := run(env, store, *runWorkflow, *runInput); err != nil {
			slog.Error("run failed", "error", err)
			os.Exit(1)
		}
	case validateCmd.FullCommand():
		if err := validate(store); err != nil {
			os.Exit(1)
		}
	case agentsCmd.FullCommand():
		if err := listAgents(store); err != nil {
			slog.Error("failed to list agents", "error", err)
			os.Exit(1)
		}
	case workflowsCmd.FullCommand():
		if err := listWorkflows(store); err != nil {
			slog.Error("failed to list workflows", "error", err)
			os.Exit(1)
		}
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func setupTemplateStore(env *config.Env) (*template.Store, error) {
	var (
		store storage.Storage
		err   error
	)
	switch env.StorageType {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.S3Bucket, env.S3Prefix, env.S3Region)
	default:
		store, err = storage.NewLocalStorage(env.TemplateDir)
	}
	if err != nil {
		return nil, err
	}
	return template.NewStore(store), nil
}

// run starts a fully wired orchestrator with a simulated executor,
// registers every stored agent and workflow, and tails the event stream
// until interrupted. Real deployments replace the executor with their own
// bridge to model or tool invocations.
func run(env *config.Env, store *template.Store, workflowID string, input map[string]string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	orch, err := orchestrator.New(env, simulatedExecutor())
	if err != nil {
		return err
	}
	tailEvents(orch.Events())

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	agentDefs, err := store.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, def := range agentDefs {
		if _, err := orch.RegisterAgent(ctx, def); err != nil {
			slog.Warn("skipping agent template", "agent_id", def.ID, "error", err)
		}
	}
	workflowDefs, err := store.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, def := range workflowDefs {
		if err := orch.RegisterWorkflow(def); err != nil {
			slog.Warn("skipping workflow template", "workflow_id", def.ID, "error", err)
		}
	}
	slog.Info("orchestrator ready", "agents", len(agentDefs), "workflows", len(workflowDefs))

	// Hot-reload templates saved while the session runs. New agents and
	// workflows join the pool; already-registered ids are skipped.
	if env.StorageType != "s3" {
		watcher, err := template.NewWatcher(env.TemplateDir, func(path string) {
			reloadTemplates(ctx, orch, store)
		})
		if err != nil {
			slog.Warn("template watching disabled", "error", err)
		} else {
			defer watcher.Close()
			go func() {
				if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("template watcher stopped", "error", err)
				}
			}()
		}
	}

	if workflowID != "" {
		wfInput := make(map[string]any, len(input))
		for k, v := range input {
			wfInput[k] = v
		}
		inst, err := orch.ExecuteWorkflow(ctx, workflowID, wfInput)
		if err != nil {
			return err
		}
		slog.Info("workflow finished",
			"workflow_id", workflowID,
			"instance_id", inst.ID(),
			"status", inst.Status(),
			"steps", inst.CompletedSteps(),
		)
		if instErr := inst.Err(); instErr != nil {
			slog.Error("workflow error", "error", instErr)
		}
		printStats(orch)
		return nil
	}

	<-ctx.Done()
	slog.Info("shutting down")
	printStats(orch)
	return nil
}

func reloadTemplates(ctx context.Context, orch *orchestrator.Orchestrator, store *template.Store) {
	agentDefs, err := store.ListAgents(ctx)
	if err != nil {
		slog.Error("reload: failed to list agents", "error", err)
		return
	}
	for _, def := range agentDefs {
		if _, err := orch.Agent(def.ID); err == nil {
			continue
		}
		if _, err := orch.RegisterAgent(ctx, def); err != nil {
			slog.Warn("reload: skipping agent template", "agent_id", def.ID, "error", err)
		} else {
			slog.Info("reload: agent joined", "agent_id", def.ID, "role", def.Role)
		}
	}

	workflowDefs, err := store.ListWorkflows(ctx)
	if err != nil {
		slog.Error("reload: failed to list workflows", "error", err)
		return
	}
	for _, def := range workflowDefs {
		if err := orch.RegisterWorkflow(def); err != nil {
			slog.Debug("reload: workflow unchanged or invalid", "workflow_id", def.ID, "error", err)
		} else {
			slog.Info("reload: workflow registered", "workflow_id", def.ID)
		}
	}
}

// simulatedExecutor stands in for a real model or tool bridge: it sleeps
// briefly and echoes the task's resolved input as output.
func simulatedExecutor() scheduler.Executor {
	return scheduler.ExecutorFunc(func(ctx context.Context, t *task.Instance, a *agent.Instance) (map[string]any, error) {
		// task_id and agent_id ride along on the context attributes.
		slog.InfoContext(ctx, "executor: working", "role", a.Role())
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		out := map[string]any{"worker": a.ID()}
		for k, v := range t.Definition.Input {
			out[k] = v
		}
		return out, nil
	})
}

// tailEvents prints the lifecycle stream. Must run before the bus starts.
func tailEvents(bus *event.Bus) {
	types := []event.Type{
		event.AgentCreated, event.AgentRemoved, event.AgentStatusChanged,
		event.TaskCreated, event.TaskQueued, event.TaskAssigned, event.TaskStarted,
		event.TaskCompleted, event.TaskRetried, event.TaskFailed,
		event.WorkflowStarted, event.WorkflowStepCompleted, event.WorkflowCompleted, event.WorkflowFailed,
		event.MessageSent,
	}
	cyan := color.New(color.FgCyan)
	for _, typ := range types {
		typ := typ
		bus.SubscribeRaw(typ, "tail_"+string(typ), func(env *event.Envelope) error {
			fmt.Fprintf(os.Stdout, "%s %s %s\n",
				env.Timestamp.Format(time.TimeOnly),
				cyan.Sprintf("%-24s", string(env.Type)),
				string(env.Data),
			)
			return nil
		})
	}
}

func printStats(orch *orchestrator.Orchestrator) {
	snap := orch.Stats()
	slog.Info("session stats",
		"tasks_completed", snap.CompletedTasks,
		"tasks_failed", snap.FailedTasks,
		"throughput_per_minute", snap.ThroughputPerMinute,
		"avg_task_duration", snap.AverageTaskDuration,
		"workflows_completed", snap.WorkflowsCompleted,
		"workflows_failed", snap.WorkflowsFailed,
		"messages_sent", snap.MessagesSent,
	)
}

func validate(store *template.Store) error {
	ctx := context.Background()
	ok := true

	agents, err := store.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, def := range agents {
		if def.ID == "" || def.Role == "" {
			color.Red("agent template %q: missing id or role", def.Name)
			ok = false
			continue
		}
		color.Green("agent %s (%s): ok", def.ID, def.Role)
	}

	workflows, err := store.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, def := range workflows {
		if err := def.Validate(); err != nil {
			color.Red("workflow %s: %v", def.ID, err)
			ok = false
			continue
		}
		color.Green("workflow %s: ok (%d steps)", def.ID, len(def.Steps))
	}

	if !ok {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func listAgents(store *template.Store) error {
	defs, err := store.ListAgents(context.Background())
	if err != nil {
		return err
	}
	for _, def := range defs {
		fmt.Printf("%-20s role=%-12s priority=%d %s\n", def.ID, def.Role, def.Priority, def.Description)
	}
	return nil
}

func listWorkflows(store *template.Store) error {
	defs, err := store.ListWorkflows(context.Background())
	if err != nil {
		return err
	}
	for _, def := range defs {
		fmt.Printf("%-20s steps=%-3d %s\n", def.ID, len(def.Steps), def.Description)
	}
	return nil
}
