package stream_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	store, err := stream.DialRedis(ctx, stream.RedisConfig{
		URL:      "redis://" + mr.Addr() + "/0",
		PoolSize: 4,
	})
	require.NoError(t, err)
	defer store.Close()

	id, err := store.Append(ctx, "watch_tower:events:sync.completed", map[string]string{"a": "b"}, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// The record lands in the real stream key.
	assert.True(t, mr.Exists("watch_tower:events:sync.completed"))
}

func TestDialRedis_BadURL(t *testing.T) {
	_, err := stream.DialRedis(context.Background(), stream.RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}

func TestDialRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := stream.DialRedis(context.Background(), stream.RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}
