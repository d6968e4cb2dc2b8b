package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/pkg/oerr"
)

func coderDef(id string, priority int) *Definition {
	return &Definition{
		ID:       id,
		Name:     id,
		Role:     "coder",
		Priority: priority,
		Capabilities: Capabilities{
			TaskTypes:      []string{"code"},
			MaxConcurrency: 1,
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	inst, err := r.Register(ctx, coderDef("a1", 0))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, inst.Status())
	assert.Empty(t, inst.CurrentTaskID())

	_, err = r.Register(ctx, coderDef("a1", 0))
	require.Error(t, err)
	assert.True(t, oerr.IsCode(err, oerr.DuplicateAgent))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	_, err := r.Register(ctx, &Definition{ID: "", Role: "coder"})
	assert.True(t, oerr.IsCode(err, oerr.InvalidDefinition))

	_, err = r.Register(ctx, &Definition{ID: "a1"})
	assert.True(t, oerr.IsCode(err, oerr.InvalidDefinition))

	_, err = r.Register(ctx, &Definition{ID: "a1", Role: "coder", DependsOn: []string{"missing"}})
	assert.True(t, oerr.IsCode(err, oerr.UnknownAgent))
}

func TestRegistry_UnregisterBusy(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	inst, err := r.Register(ctx, coderDef("a1", 0))
	require.NoError(t, err)
	inst.AssignTask("t1")

	err = r.Unregister(ctx, "a1")
	require.Error(t, err)
	assert.True(t, oerr.IsCode(err, oerr.AgentBusy))

	// Registry unchanged.
	got, err := r.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.CurrentTaskID())

	inst.ClearTask()
	require.NoError(t, r.Unregister(ctx, "a1"))
	_, err = r.Get("a1")
	assert.True(t, oerr.IsCode(err, oerr.UnknownAgent))
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Unregister(context.Background(), "ghost")
	assert.True(t, oerr.IsCode(err, oerr.UnknownAgent))
}

func TestRegistry_FindAvailable(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	a1, err := r.Register(ctx, coderDef("a1", 0))
	require.NoError(t, err)
	a2, err := r.Register(ctx, coderDef("a2", 0))
	require.NoError(t, err)
	_, err = r.Register(ctx, &Definition{ID: "rev1", Role: "reviewer"})
	require.NoError(t, err)

	// Busy agents are skipped.
	a2.AssignTask("t1")
	found := r.FindAvailable("coder")
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.ID())

	// No idle agent for the role.
	a1.AssignTask("t2")
	assert.Nil(t, r.FindAvailable("coder"))
	assert.Nil(t, r.FindAvailable("tester"))
}

func TestRegistry_FindAvailablePriority(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	_, err := r.Register(ctx, coderDef("low", 1))
	require.NoError(t, err)
	_, err = r.Register(ctx, coderDef("high", 10))
	require.NoError(t, err)

	found := r.FindAvailable("coder")
	require.NotNil(t, found)
	assert.Equal(t, "high", found.ID())
}

func TestRegistry_CountByStatus(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	a1, err := r.Register(ctx, coderDef("a1", 0))
	require.NoError(t, err)
	_, err = r.Register(ctx, coderDef("a2", 0))
	require.NoError(t, err)

	a1.AssignTask("t1")
	counts := r.CountByStatus()
	assert.Equal(t, 1, counts[StatusIdle])
	assert.Equal(t, 1, counts[StatusBusy])
}

func TestRegistry_DependsOn(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	_, err := r.Register(ctx, coderDef("a1", 0))
	require.NoError(t, err)

	_, err = r.Register(ctx, &Definition{ID: "rev1", Role: "reviewer", DependsOn: []string{"a1"}})
	require.NoError(t, err)
}
