package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func axisVectors() ([]string, [][]float32) {
	return []string{"x", "y", "z"}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	// Given: three orthogonal vectors
	s := newTestHNSW(t, 3)
	ids, vecs := axisVectors()
	require.NoError(t, s.Add(context.Background(), ids, vecs))

	// When: searching near the x axis
	results, err := s.Search(context.Background(), []float32{0.9, 0.1, 0}, 2)

	// Then: x is closest, scores descend
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.LessOrEqual(t, results[0].Score, float32(1.0))
}

func TestHNSWStore_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestHNSW(t, 3)
	ids, vecs := axisVectors()
	require.NoError(t, s.Add(ctx, ids, vecs))

	// Move x onto the z axis.
	require.NoError(t, s.Add(ctx, []string{"x"}, [][]float32{{0, 0, 1}}))
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, float32(1.0), r.Score, "stale x vector must not match")
	}

	require.NoError(t, s.Delete(ctx, []string{"y", "unknown"}))
	assert.False(t, s.Contains("y"))
	assert.Equal(t, []string{"x", "z"}, s.AllIDs())

	results, err = s.Search(ctx, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestHNSWStore_DimensionChecks(t *testing.T) {
	s := newTestHNSW(t, 3)

	err := s.Add(context.Background(), []string{"a"}, [][]float32{{1, 2}})
	var dm ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Got)

	_, err = s.Search(context.Background(), []float32{1}, 1)
	assert.ErrorAs(t, err, &dm)

	assert.Error(t, s.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 2, 3}}))

	_, err = NewHNSWStore(VectorStoreConfig{})
	assert.Error(t, err)
}

func TestHNSWStore_EmptyAndClosed(t *testing.T) {
	s := newTestHNSW(t, 3)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Search(context.Background(), []float32{1, 0, 0}, 5)
	assert.Error(t, err)
	assert.Zero(t, s.Count())
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	s := newTestHNSW(t, 3)
	ids, vecs := axisVectors()
	require.NoError(t, s.Add(ctx, ids, vecs))
	require.NoError(t, s.Save(path))

	dims, err := StoredDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)

	loaded := newTestHNSW(t, 3)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 3, loaded.Count())

	results, err := loaded.Search(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "z", results[0].ID)

	wrong := newTestHNSW(t, 4)
	assert.Error(t, wrong.Load(path))
}

func TestStoredDimensions_NoIndex(t *testing.T) {
	dims, err := StoredDimensions(filepath.Join(t.TempDir(), "vectors.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}
