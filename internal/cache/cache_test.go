package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopStore(t *testing.T) {
	var s Store = NopStore{}
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))

	v, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", "music", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore("redis://127.0.0.1:1/0", "music", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisStore_KeysAndErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	s := newRedisStore(client, "music", time.Minute)
	defer s.Close()

	assert.Equal(t, "music:trending:all", s.key("trending:all"))
	assert.True(t, s.Enabled())

	_, ok, err := s.Get(context.Background(), "trending:all")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), "trending:all", []byte("{}")))
	assert.Error(t, s.Ping(context.Background()))
}

var _ Store = (*RedisStore)(nil)
