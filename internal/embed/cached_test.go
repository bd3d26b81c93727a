package embed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how many texts reach it.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchTexts atomic.Int64
	closed     atomic.Bool
	dimensions int
	modelName  string
	err        error
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{dimensions: dims, modelName: "counting-model"}
}

func (m *countingEmbedder) vector(text string) []float32 {
	v := make([]float32, m.dimensions)
	v[len(text)%m.dimensions] = 1
	return v
}

func (m *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.vector(text), nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchTexts.Add(int64(len(texts)))
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int                 { return m.dimensions }
func (m *countingEmbedder) ModelName() string               { return m.modelName }
func (m *countingEmbedder) Available(_ context.Context) bool { return !m.closed.Load() }
func (m *countingEmbedder) Close() error                    { m.closed.Store(true); return nil }

// ============================================================================
// Cache hits and misses
// ============================================================================

func TestCachedEmbedder_RepeatedQueryHitsCache(t *testing.T) {
	// Given: a cached embedder
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: the same query is embedded twice and another once
	v1, err := cached.Embed(ctx, "vitamin d deficiency")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "vitamin d deficiency")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "bone density")
	require.NoError(t, err)

	// Then: the inner embedder saw two distinct texts
	assert.Equal(t, int64(2), inner.embedCalls.Load())
	assert.Equal(t, v1, v2)
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedder_EmbedBatchSendsOnlyMisses(t *testing.T) {
	// Given: one text already cached
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "bb")
	require.NoError(t, err)

	// When: a batch mixes the cached text with new ones
	got, err := cached.EmbedBatch(ctx, []string{"a", "bb", "ccc"})

	// Then: only the two misses reach the inner batch, order is kept
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.batchTexts.Load())
	require.Len(t, got, 3)
	assert.Equal(t, inner.vector("a"), got[0])
	assert.Equal(t, inner.vector("bb"), got[1])
	assert.Equal(t, inner.vector("ccc"), got[2])

	// And: a fully cached batch never reaches the inner embedder
	_, err = cached.EmbedBatch(ctx, []string{"ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.batchTexts.Load())

	empty, err := cached.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, _ = cached.Embed(ctx, "query")
	inner.modelName = "other-model"
	_, _ = cached.Embed(ctx, "query")

	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_LRUEviction(t *testing.T) {
	// Given: a cache of two entries
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 2)
	ctx := context.Background()

	// When: three texts pass through
	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := cached.Embed(ctx, q)
		require.NoError(t, err)
	}
	inner.embedCalls.Store(0)

	// Then: the oldest was evicted and the newest are still cached
	_, _ = cached.Embed(ctx, "q3")
	assert.Equal(t, int64(0), inner.embedCalls.Load())
	_, _ = cached.Embed(ctx, "q1")
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_ErrorsAreNotCached(t *testing.T) {
	inner := newCountingEmbedder(8)
	inner.err = errors.New("endpoint down")
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "q")
	require.Error(t, err)
	_, err = cached.EmbedBatch(ctx, []string{"q"})
	require.Error(t, err)
	assert.Zero(t, cached.Len())

	inner.err = nil
	_, err = cached.Embed(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.embedCalls.Load())
}

// ============================================================================
// Passthrough
// ============================================================================

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder(384)
	cached := NewCachedEmbedder(inner, 0)

	assert.Equal(t, 384, cached.Dimensions())
	assert.Equal(t, "counting-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())

	_, _ = cached.Embed(context.Background(), "x")
	require.NoError(t, cached.Close())
	assert.True(t, inner.closed.Load())
	assert.Zero(t, cached.Len())
	assert.False(t, cached.Available(context.Background()))
}

func TestCachedEmbedder_ConcurrentAccess(t *testing.T) {
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 100)
	ctx := context.Background()
	texts := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := cached.Embed(ctx, texts[j%len(texts)])
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(texts), cached.Len())
}
