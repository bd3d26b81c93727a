package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// BM25 backend contract
// Both backends must satisfy the same behaviour.
// ============================================================================

func backends(t *testing.T) map[string]func() BM25Index {
	return map[string]func() BM25Index{
		"sqlite": func() BM25Index {
			idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
			require.NoError(t, err)
			return idx
		},
		"bleve": func() BM25Index {
			idx, err := NewBleveBM25Index("", DefaultBM25Config())
			require.NoError(t, err)
			return idx
		},
	}
}

var corpus = []*Document{
	{ID: "d1", Content: "Vitamin D deficiency and bone density in adults"},
	{ID: "d2", Content: "Bone fractures heal faster with vitamin supplementation"},
	{ID: "d3", Content: "Machine learning for protein folding"},
	{ID: "d4", Content: "The effect of vitamin D on immune response; vitamin D levels"},
}

func TestBM25Index_SearchRanksMatches(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// Given: a small corpus
			idx := open()
			defer func() { _ = idx.Close() }()
			require.NoError(t, idx.Index(context.Background(), corpus))

			// When: searching a two-term query
			results, err := idx.Search(context.Background(), "vitamin bone", 10)

			// Then: any-term matches come back best first, non-matches do not
			require.NoError(t, err)
			ids := make([]string, len(results))
			for i, r := range results {
				ids[i] = r.DocID
			}
			assert.ElementsMatch(t, []string{"d1", "d2", "d4"}, ids)
			assert.NotContains(t, ids, "d3")
			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
			}
			assert.Greater(t, results[0].Score, 0.0)
		})
	}
}

func TestBM25Index_LimitAndEmptyQuery(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := open()
			defer func() { _ = idx.Close() }()
			require.NoError(t, idx.Index(context.Background(), corpus))

			results, err := idx.Search(context.Background(), "vitamin", 1)
			require.NoError(t, err)
			assert.Len(t, results, 1)

			results, err = idx.Search(context.Background(), "   ", 10)
			require.NoError(t, err)
			assert.Empty(t, results)

			// Only stop words: nothing to match.
			results, err = idx.Search(context.Background(), "the of and", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestBM25Index_ReplaceAndDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := open()
			defer func() { _ = idx.Close() }()
			require.NoError(t, idx.Index(ctx, corpus))

			// Replace d3 with vitamin content.
			require.NoError(t, idx.Index(ctx, []*Document{{ID: "d3", Content: "vitamin protein"}}))
			results, err := idx.Search(ctx, "protein", 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "d3", results[0].DocID)

			require.NoError(t, idx.Delete(ctx, []string{"d1", "missing"}))
			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.Equal(t, []string{"d2", "d3", "d4"}, ids)
			assert.Equal(t, 3, idx.Stats().DocumentCount)
		})
	}
}

func TestBM25Index_ClosedIndexErrors(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := open()
			require.NoError(t, idx.Close())
			require.NoError(t, idx.Close())

			_, err := idx.Search(context.Background(), "vitamin", 10)
			assert.Error(t, err)
			assert.Error(t, idx.Index(context.Background(), corpus))
			assert.Equal(t, 0, idx.Stats().DocumentCount)
		})
	}
}

func TestBM25Index_Deterministic(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			idx := open()
			defer func() { _ = idx.Close() }()
			docs := []*Document{
				{ID: "a", Content: "same words here"},
				{ID: "b", Content: "same words here"},
				{ID: "c", Content: "same words here"},
			}
			require.NoError(t, idx.Index(context.Background(), docs))

			first, err := idx.Search(context.Background(), "words", 10)
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				again, err := idx.Search(context.Background(), "words", 10)
				require.NoError(t, err)
				assert.Equal(t, first, again)
			}
		})
	}
}

func TestSQLiteBM25Index_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")
	ctx := context.Background()

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, corpus))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, len(corpus), reopened.Stats().DocumentCount)

	results, err := reopened.Search(ctx, "protein", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d3", results[0].DocID)
}

func TestBleveBM25Index_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.bleve")
	ctx := context.Background()

	idx, err := NewBleveBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, corpus))
	require.NoError(t, idx.Close())

	reopened, err := NewBleveBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Search(ctx, "the protein", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d3", results[0].DocID)
}

func TestNewBM25IndexWithBackend(t *testing.T) {
	dir := t.TempDir()
	base := BM25BasePath(dir)

	assert.Equal(t, BM25Backend(""), DetectBM25Backend(base))

	idx, err := NewBM25IndexWithBackend(base, DefaultBM25Config(), "sqlite")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	assert.Equal(t, BM25BackendSQLite, DetectBM25Backend(base))

	_, err = NewBM25IndexWithBackend(base, DefaultBM25Config(), "lucene")
	assert.Error(t, err)

	mem, err := NewBM25IndexWithBackend("", DefaultBM25Config(), "bleve")
	require.NoError(t, err)
	assert.IsType(t, &BleveBM25Index{}, mem)
	require.NoError(t, mem.Close())
}
