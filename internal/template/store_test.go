package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/agent"
	"github.com/taskmesh/taskmesh/internal/task"
	"github.com/taskmesh/taskmesh/internal/workflow"
	"github.com/taskmesh/taskmesh/pkg/oerr"
	"github.com/taskmesh/taskmesh/pkg/storage"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return NewStore(local), dir
}

func TestStore_AgentRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	def := &agent.Definition{
		ID:   "coder-1",
		Name: "Coder",
		Role: "coder",
		Capabilities: agent.Capabilities{
			Tools:     []string{"editor", "shell"},
			TaskTypes: []string{"implement"},
		},
		Priority: 5,
	}
	require.NoError(t, s.SaveAgent(ctx, def))

	got, err := s.LoadAgent(ctx, "coder-1")
	require.NoError(t, err)
	assert.Equal(t, def, got)

	_, err = s.LoadAgent(ctx, "ghost")
	assert.True(t, oerr.IsCode(err, oerr.UnknownAgent))
}

func TestStore_ListAgentsSkipsBrokenDocuments(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgent(ctx, &agent.Definition{ID: "a1", Role: "coder"}))
	require.NoError(t, s.SaveAgent(ctx, &agent.Definition{ID: "a2", Role: "reviewer"}))

	broken := filepath.Join(dir, "agents", "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("{not yaml"), 0o644))

	defs, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a1", defs[0].ID)
	assert.Equal(t, "a2", defs[1].ID)
}

func TestStore_WorkflowRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	def := &workflow.Definition{
		ID: "release",
		Steps: []*workflow.Step{
			{ID: "build", Task: &workflow.TaskStep{Tasks: []*task.Definition{
				{ID: "compile", RequiredRole: "coder", Priority: task.PriorityHigh},
			}}},
		},
	}
	require.NoError(t, s.SaveWorkflow(ctx, def))

	got, err := s.LoadWorkflow(ctx, "release")
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "task", got.Steps[0].Kind())
	assert.Equal(t, task.PriorityHigh, got.Steps[0].Task.Tasks[0].Priority)

	_, err = s.LoadWorkflow(ctx, "ghost")
	assert.True(t, oerr.IsCode(err, oerr.UnknownWorkflow))
}

func TestStore_SaveWorkflowRejectsInvalid(t *testing.T) {
	s, _ := newStore(t)
	err := s.SaveWorkflow(context.Background(), &workflow.Definition{ID: "empty"})
	assert.True(t, oerr.IsCode(err, oerr.InvalidDefinition))
}

func TestStore_LoadWorkflowValidates(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	// A structurally invalid document written behind the store's back.
	doc := []byte("id: bad\nsteps:\n  - id: s1\n")
	path := filepath.Join(dir, "workflows")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "bad.yaml"), doc, 0o644))

	_, err := s.LoadWorkflow(ctx, "bad")
	assert.True(t, oerr.IsCode(err, oerr.InvalidDefinition))
}

func TestStore_Delete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgent(ctx, &agent.Definition{ID: "a1", Role: "coder"}))
	require.NoError(t, s.DeleteAgent(ctx, "a1"))
	_, err := s.LoadAgent(ctx, "a1")
	assert.True(t, oerr.IsCode(err, oerr.UnknownAgent))

	err = s.DeleteWorkflow(ctx, "ghost")
	assert.True(t, oerr.IsCode(err, oerr.UnknownWorkflow))
}

func TestWatcher_ReportsChangedDocuments(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))

	changed := make(chan string, 4)
	w, err := NewWatcher(dir, func(path string) {
		changed <- path
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Run(ctx)
	}()

	target := filepath.Join(agentsDir, "coder.yaml")
	require.NoError(t, os.WriteFile(target, []byte("id: coder-1\nrole: coder\n"), 0o644))

	select {
	case path := <-changed:
		assert.Equal(t, target, path)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the changed document")
	}

	// Non-YAML files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(agentsDir, "notes.txt"), []byte("x"), 0o644))
	select {
	case path := <-changed:
		t.Fatalf("unexpected notification for %s", path)
	case <-time.After(500 * time.Millisecond):
	}
}
