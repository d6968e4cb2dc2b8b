package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_ReadWrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "workflows/build.yaml", []byte("id: build")))

	data, err := s.Read(ctx, "workflows/build.yaml")
	require.NoError(t, err)
	assert.Equal(t, "id: build", string(data))

	exists, err := s.Exists(ctx, "workflows/build.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "workflows/missing.yaml")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_ReadMissing(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "nope.yaml")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorage_List(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "agents/coder.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "agents/reviewer.yaml", []byte("b")))
	require.NoError(t, s.Write(ctx, "workflows/build.yaml", []byte("c")))

	paths, err := s.List(ctx, "agents")
	require.NoError(t, err)
	assert.Equal(t, []string{"agents/coder.yaml", "agents/reviewer.yaml"}, paths)

	paths, err = s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorage_FailedWriteLeavesNoTempFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	// Writing over an existing directory makes the final rename fail.
	require.NoError(t, s.Write(ctx, "agents/coder.yaml", []byte("a")))
	require.Error(t, s.Write(ctx, "agents", []byte("clobber")))

	_, err = os.Stat(filepath.Join(dir, "agents.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorage_Delete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "agents/coder.yaml", []byte("a")))
	require.NoError(t, s.Delete(ctx, "agents/coder.yaml"))
	require.ErrorIs(t, s.Delete(ctx, "agents/coder.yaml"), ErrNotFound)
}
