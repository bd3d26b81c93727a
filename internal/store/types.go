// Package store provides the first-stage indexes rankfuse retrieves from:
// a lexical BM25 index (SQLite FTS5 or Bleve) and vector indexes (HNSW or
// a chromem collection). Every index returns hits sorted best-first.
package store

import (
	"context"
	"fmt"
)

// Document is a corpus entry handed to a lexical index.
type Document struct {
	ID      string
	Content string
}

// BM25Result is one lexical hit. Higher Score is better.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats summarizes a lexical index.
type IndexStats struct {
	DocumentCount int
}

// BM25Index provides keyword search using BM25 scoring.
type BM25Index interface {
	// Index adds documents, replacing any with the same ID.
	Index(ctx context.Context, docs []*Document) error

	// Search returns at most limit documents matching any query term.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns every indexed document ID.
	AllIDs() ([]string, error)

	Stats() *IndexStats

	// Save flushes pending state to disk. In-memory indexes ignore it.
	Save() error
	Close() error
}

// BM25Config configures lexical analysis for both backends.
type BM25Config struct {
	// StopWords are dropped at index and query time.
	StopWords []string

	// MinTokenLength drops shorter tokens (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns English stop words and a two-character minimum.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultStopWordList,
		MinTokenLength: 2,
	}
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // lower is closer
	Score    float32 // similarity in [0,1], higher is closer
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions int

	// Metric is "cos" or "l2" (default: "cos").
	Metric string

	// M is max connections per layer (default: 16).
	M int

	// EfSearch is the query-time candidate list size (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns cosine HNSW defaults for dimensions.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore holds precomputed embeddings and answers k-NN queries.
type VectorStore interface {
	// Add inserts vectors; an existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// TextVectorSearcher is a vector collection that embeds the query itself.
type TextVectorSearcher interface {
	SearchText(ctx context.Context, query string, k int) ([]*VectorResult, error)
}

// ErrDimensionMismatch indicates a vector of the wrong width.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild with 'rankfuse index --force')", e.Expected, e.Got)
}
