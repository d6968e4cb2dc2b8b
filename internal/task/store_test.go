package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/pkg/oerr"
)

func def(id string, deps ...string) *Definition {
	return &Definition{
		ID:           id,
		RequiredRole: "coder",
		Priority:     PriorityMedium,
		DependsOn:    deps,
	}
}

func TestStore_CreateGet(t *testing.T) {
	s := NewStore()

	inst, err := s.Create(def("t1"), 3)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, inst.Status())
	assert.Equal(t, 3, inst.MaxRetries())

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Same(t, inst, got)

	_, err = s.Get("missing")
	assert.True(t, oerr.IsCode(err, oerr.UnknownTask))

	_, err = s.Create(def("t1"), 3)
	assert.True(t, oerr.IsCode(err, oerr.InvalidDefinition))
}

func TestStore_ListOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Create(def(id), 0)
		require.NoError(t, err)
	}

	var ids []string
	for _, inst := range s.List() {
		ids = append(ids, inst.ID())
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestStore_DependenciesMet(t *testing.T) {
	s := NewStore()
	dep, err := s.Create(def("dep"), 0)
	require.NoError(t, err)
	_, err = s.Create(def("t1", "dep"), 0)
	require.NoError(t, err)

	assert.False(t, s.DependenciesMet("t1"))

	dep.SetStatus(StatusCompleted)
	assert.True(t, s.DependenciesMet("t1"))

	// Unknown dependency ids stay unmet.
	_, err = s.Create(def("t2", "ghost"), 0)
	require.NoError(t, err)
	assert.False(t, s.DependenciesMet("t2"))
}

func TestStore_Watch(t *testing.T) {
	s := NewStore()
	inst, err := s.Create(def("t1"), 0)
	require.NoError(t, err)

	ch, err := s.Watch("t1")
	require.NoError(t, err)

	inst.SetStatus(StatusCompleted)
	s.NotifyTerminal(inst)

	select {
	case got := <-ch:
		assert.Same(t, inst, got)
	case <-time.After(time.Second):
		t.Fatal("watcher was not notified")
	}
}

func TestStore_WatchAlreadyTerminal(t *testing.T) {
	s := NewStore()
	inst, err := s.Create(def("t1"), 0)
	require.NoError(t, err)
	inst.SetStatus(StatusFailed)

	ch, err := s.Watch("t1")
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Same(t, inst, got)
	default:
		t.Fatal("terminal task should be delivered immediately")
	}
}

func TestStore_WatchUnknown(t *testing.T) {
	s := NewStore()
	_, err := s.Watch("ghost")
	assert.True(t, oerr.IsCode(err, oerr.UnknownTask))
}
