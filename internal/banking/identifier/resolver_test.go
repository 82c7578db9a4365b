package identifier

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter() GenerateFunc {
	n := 0
	return func() (string, error) {
		n++
		return strconv.Itoa(n), nil
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("returns first free candidate", func(t *testing.T) {
		taken := map[string]bool{"1": true, "2": true}
		value, attempts, err := NewResolver(10).Resolve(ctx, counter(), func(_ context.Context, c string) (bool, error) {
			return taken[c], nil
		})
		require.NoError(t, err)
		assert.Equal(t, "3", value)
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhausts after the attempt ceiling", func(t *testing.T) {
		calls := 0
		_, attempts, err := NewResolver(25).Resolve(ctx, counter(), func(context.Context, string) (bool, error) {
			calls++
			return true, nil
		})
		require.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 25, calls)
		assert.Equal(t, 25, attempts)
	})

	t.Run("defaults to 1000 attempts", func(t *testing.T) {
		r := NewResolver(0)
		assert.Equal(t, DefaultMaxAttempts, r.MaxAttempts())
		calls := 0
		_, _, err := r.Resolve(ctx, counter(), func(context.Context, string) (bool, error) {
			calls++
			return true, nil
		})
		require.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 1000, calls)
	})

	t.Run("propagates lookup errors", func(t *testing.T) {
		boom := errors.New("db down")
		_, _, err := NewResolver(10).Resolve(ctx, counter(), func(context.Context, string) (bool, error) {
			return false, boom
		})
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrExhausted)
	})

	t.Run("propagates generation errors", func(t *testing.T) {
		boom := errors.New("entropy")
		_, _, err := NewResolver(10).Resolve(ctx, func() (string, error) { return "", boom }, func(context.Context, string) (bool, error) {
			return false, nil
		})
		require.ErrorIs(t, err, boom)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := NewResolver(10).Resolve(cctx, counter(), func(context.Context, string) (bool, error) {
			return true, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}
