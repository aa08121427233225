package allocation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardWithLock(t *testing.T) {
	t.Run("runs fn and releases lock", func(t *testing.T) {
		g := NewGuard()
		ran := false
		err := g.WithLock(LockLectures, func() error {
			ran = true
			assert.True(t, g.Held(LockLectures))
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.False(t, g.Held(LockLectures))
	})

	t.Run("nested acquire is a silent no-op", func(t *testing.T) {
		g := NewGuard()
		calls := 0
		err := g.WithLock(LockLectures, func() error {
			calls++
			return g.WithLock(LockLectures, func() error {
				calls++
				return errors.New("never runs")
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("lecture and exam locks are independent", func(t *testing.T) {
		g := NewGuard()
		calls := 0
		err := g.WithLock(LockLectures, func() error {
			return g.WithLock(LockExams, func() error {
				calls++
				assert.True(t, g.Held(LockLectures))
				assert.True(t, g.Held(LockExams))
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("releases lock when fn fails", func(t *testing.T) {
		g := NewGuard()
		wantErr := errors.New("redistribute failed")
		err := g.WithLock(LockExams, func() error { return wantErr })
		assert.ErrorIs(t, err, wantErr)
		assert.False(t, g.Held(LockExams))
	})

	t.Run("releases lock on panic", func(t *testing.T) {
		g := NewGuard()
		assert.Panics(t, func() {
			_ = g.WithLock(LockLectures, func() error { panic("boom") })
		})
		assert.False(t, g.Held(LockLectures))
	})

	t.Run("lock can be reacquired after release", func(t *testing.T) {
		g := NewGuard()
		for i := 0; i < 2; i++ {
			ran := false
			require.NoError(t, g.WithLock(LockLectures, func() error {
				ran = true
				return nil
			}))
			assert.True(t, ran)
		}
	})
}
