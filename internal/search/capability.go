package search

import (
	"context"
	"errors"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Retriever is the sparse/dense search capability. Results are sorted
// descending by score and hold at most topK entries.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) (RankedList, error)
}

// PairwiseScorer scores (query, document) pairs directly, e.g. a
// cross-encoder. The returned list is sorted descending, truncated to topK,
// and should only contain ids drawn from cands.
type PairwiseScorer interface {
	Score(ctx context.Context, query string, cands []Candidate, topK int) (RankedList, error)
}

// DocTextLookup resolves a document's text for reranking.
type DocTextLookup interface {
	Lookup(docID string) (string, bool)
}

// DocTexts is an in-memory DocTextLookup.
type DocTexts map[string]string

// Lookup implements DocTextLookup.
func (d DocTexts) Lookup(docID string) (string, bool) {
	text, ok := d[docID]
	return text, ok
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string, topK int) (RankedList, error)

// Search implements Retriever.
func (f RetrieverFunc) Search(ctx context.Context, query string, topK int) (RankedList, error) {
	return f(ctx, query, topK)
}

// ScorerFunc adapts a function to the PairwiseScorer interface.
type ScorerFunc func(ctx context.Context, query string, cands []Candidate, topK int) (RankedList, error)

// Score implements PairwiseScorer.
func (f ScorerFunc) Score(ctx context.Context, query string, cands []Candidate, topK int) (RankedList, error) {
	return f(ctx, query, cands, topK)
}

var (
	_ DocTextLookup  = DocTexts(nil)
	_ Retriever      = RetrieverFunc(nil)
	_ PairwiseScorer = ScorerFunc(nil)
)
