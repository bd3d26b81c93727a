package search

import (
	"context"
	"sort"

	"github.com/Aman-CERP/rankfuse/internal/store"
)

// NoOpScorer keeps candidates in input order with decreasing scores.
// Used to exercise the rerank plumbing without a model.
type NoOpScorer struct{}

// Score returns 1.0, 0.99, 0.98, ... in candidate order.
func (NoOpScorer) Score(_ context.Context, _ string, cands []Candidate, topK int) (RankedList, error) {
	out := make(RankedList, len(cands))
	for i, c := range cands {
		out[i] = ScoredResult{DocID: c.DocID, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 {
		out = out.Head(topK)
	}
	return out, nil
}

// LexicalScorer is an offline pairwise scorer based on query term overlap.
// Each candidate scores the fraction of distinct query terms it contains,
// plus a small bonus for the density of those terms in the text.
type LexicalScorer struct {
	stopWords map[string]struct{}
}

// NewLexicalScorer creates a term-overlap scorer using the default stop list.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{stopWords: store.DefaultStopWords()}
}

// Score implements PairwiseScorer. Ties keep candidate order.
func (s *LexicalScorer) Score(ctx context.Context, query string, cands []Candidate, topK int) (RankedList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := distinct(store.FilterStopWords(store.Tokenize(query), s.stopWords))
	out := make(RankedList, len(cands))
	for i, c := range cands {
		out[i] = ScoredResult{DocID: c.DocID, Score: s.overlap(terms, c.Text)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topK > 0 {
		out = out.Head(topK)
	}
	return out, nil
}

func (s *LexicalScorer) overlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	tokens := store.Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	matched, hits := 0, 0
	for _, t := range terms {
		if n := counts[t]; n > 0 {
			matched++
			hits += n
		}
	}

	coverage := float64(matched) / float64(len(terms))
	density := float64(hits) / float64(len(tokens))
	return coverage + 0.1*density
}

func distinct(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var (
	_ PairwiseScorer = NoOpScorer{}
	_ PairwiseScorer = (*LexicalScorer)(nil)
)
