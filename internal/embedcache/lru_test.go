package embedcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingClient struct {
	dim        int
	embeds     int
	batchItems int
}

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds++
	vec := make([]float32, c.dim)
	vec[0] = float32(len(text))
	return vec, nil
}

func (c *countingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchItems += len(texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, c.dim)
		vec[0] = float32(len(text))
		out[i] = vec
	}
	return out, nil
}

func (c *countingClient) Dimension() int  { return c.dim }
func (c *countingClient) ModelID() string { return "counting-model" }
func (c *countingClient) Close() error    { return nil }

func TestWrapLRUEmbedHitsCache(t *testing.T) {
	inner := &countingClient{dim: 4}
	client := WrapLRU(inner, 16, time.Minute)
	ctx := context.Background()

	v1, err := client.Embed(ctx, "same text")
	require.NoError(t, err)
	v2, err := client.Embed(ctx, "same text")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 1, inner.embeds)

	_, err = client.Embed(ctx, "other text")
	require.NoError(t, err)
	require.Equal(t, 2, inner.embeds)
}

func TestWrapLRUBatchOnlyMissesGoThrough(t *testing.T) {
	inner := &countingClient{dim: 4}
	client := WrapLRU(inner, 16, time.Minute)
	ctx := context.Background()

	_, err := client.Embed(ctx, "cached")
	require.NoError(t, err)

	out, err := client.EmbedBatch(ctx, []string{"cached", "fresh-1", "fresh-2"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, text := range []string{"cached", "fresh-1", "fresh-2"} {
		require.Equal(t, float32(len(text)), out[i][0])
	}
	require.Equal(t, 2, inner.batchItems)

	// second round is fully cached
	inner.batchItems = 0
	_, err = client.EmbedBatch(ctx, []string{"cached", "fresh-1", "fresh-2"})
	require.NoError(t, err)
	require.Zero(t, inner.batchItems)
}

func TestWrapLRUDisabled(t *testing.T) {
	inner := &countingClient{dim: 4}
	require.Equal(t, inner, WrapLRU(inner, 0, time.Minute))
	require.Equal(t, inner, WrapLRU(inner, 16, 0))
	require.Nil(t, WrapLRU(nil, 16, time.Minute))
}

func TestCacheKeyStableAndModelScoped(t *testing.T) {
	require.Equal(t, CacheKey("m1", "text"), CacheKey("m1", "text"))
	require.NotEqual(t, CacheKey("m1", "text"), CacheKey("m2", "text"))
	require.NotEqual(t, CacheKey("m1", "text"), CacheKey("m1", "other"))
}

func TestWrapLRUEviction(t *testing.T) {
	inner := &countingClient{dim: 4}
	client := WrapLRU(inner, 2, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.Embed(ctx, fmt.Sprintf("text-%d", i))
		require.NoError(t, err)
	}
	// text-0 was evicted by capacity
	_, err := client.Embed(ctx, "text-0")
	require.NoError(t, err)
	require.Equal(t, 4, inner.embeds)
}
