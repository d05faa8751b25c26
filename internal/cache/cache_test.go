package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserBookingsKey(t *testing.T) {
	assert.Equal(t, "bookings:user:42", UserBookingsKey(42))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		s := NewMemory()
		s.Set(ctx, "k", []byte("v"), time.Minute)
		got, ok := s.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		s := NewMemory()
		_, ok := s.Get(ctx, "nope")
		assert.False(t, ok)
	})

	t.Run("del removes keys", func(t *testing.T) {
		s := NewMemory()
		s.Set(ctx, "a", []byte("1"), 0)
		s.Set(ctx, "b", []byte("2"), 0)
		s.Del(ctx, "a", "b")
		_, ok := s.Get(ctx, "a")
		assert.False(t, ok)
		_, ok = s.Get(ctx, "b")
		assert.False(t, ok)
	})

	t.Run("expired entry reads as miss", func(t *testing.T) {
		s := NewMemory()
		s.Set(ctx, "k", []byte("v"), time.Nanosecond)
		time.Sleep(5 * time.Millisecond)
		_, ok := s.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		s := NewMemory()
		s.Set(ctx, "k", []byte("v"), 0)
		_, ok := s.Get(ctx, "k")
		assert.True(t, ok)
	})
}

func TestNewRedisNilFallsBackToMemory(t *testing.T) {
	s := NewRedis(nil)
	require.NotNil(t, s)
	ctx := context.Background()
	s.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}
