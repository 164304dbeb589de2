package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/content"
	"github.com/relaygate/relaygate/internal/variant"
)

func setupRedisExampleIndex(t *testing.T) *RedisExampleIndex {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisExampleIndex(client, "relaygate", "greet:dicl_v1")
}

func TestRedisExampleIndexRoundTrips(t *testing.T) {
	idx := setupRedisExampleIndex(t)
	ctx := context.Background()

	ex := variant.Example{
		Embedding: []float64{0.1, 0.2, 0.3},
		Input:     []content.Turn{{Role: content.RoleUser, Content: []content.Block{{Type: content.BlockText, Text: "what is the capital of France?"}}}},
		Output:    []content.Turn{{Role: content.RoleAssistant, Content: []content.Block{{Type: content.BlockText, Text: "Paris"}}}},
	}
	require.NoError(t, idx.Add(ctx, ex))

	pool, err := idx.Source(ctx)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, ex.Embedding, pool[0].Embedding)
	assert.Equal(t, "Paris", pool[0].Output[0].Content[0].Text)
}

func TestRedisExampleIndexAccumulatesMultipleExamples(t *testing.T) {
	idx := setupRedisExampleIndex(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Add(ctx, variant.Example{Embedding: []float64{float64(i)}}))
	}

	pool, err := idx.Source(ctx)
	require.NoError(t, err)
	assert.Len(t, pool, 3)
}

func TestRedisExampleIndexFeedsDICLRetrieve(t *testing.T) {
	idx := setupRedisExampleIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, variant.Example{Embedding: []float64{1, 0}}))
	require.NoError(t, idx.Add(ctx, variant.Example{Embedding: []float64{0, 1}}))

	dicl := &variant.DICL{K: 1, ExampleSource: idx.Source}
	top, err := dicl.Retrieve(ctx, []float64{1, 0})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, []float64{1, 0}, top[0].Embedding)
}
