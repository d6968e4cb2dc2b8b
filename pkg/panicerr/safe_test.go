package panicerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafe(t *testing.T) {
	require.NoError(t, Safe(func() error { return nil })())

	cause := errors.New("boom")
	assert.ErrorIs(t, Safe(func() error { return cause })(), cause)

	err := Safe(func() error { panic("exploded") })()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")
}

func TestSafeContext(t *testing.T) {
	fn := SafeContext(func(ctx context.Context) error {
		return ctx.Err()
	})
	require.NoError(t, fn(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, fn(ctx), context.Canceled)

	err := SafeContext(func(context.Context) error { panic("exploded") })(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")
}

func TestSafeValue(t *testing.T) {
	v, err := SafeValue(func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	cause := errors.New("boom")
	_, err = SafeValue(func() (int, error) { return 7, cause })
	assert.ErrorIs(t, err, cause)

	// A panic yields the zero value, never a partial result.
	v, err = SafeValue(func() (int, error) { panic("exploded") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")
	assert.Zero(t, v)
}
