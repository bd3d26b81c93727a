package search

import (
	"fmt"
	"sort"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// DefaultPerSignalK is how many results each signal contributes before fusion.
const DefaultPerSignalK = 200

// RRFFusion merges N ranked lists with Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ 1 / (k + rank_i(d))
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = 1-indexed position of d in signal i
//
// A document missing from a signal contributes nothing for it. Raw scores
// are never read, so fusion is invariant to each signal's score scale.
// Build one with NewRRFFusion or NewRRFFusionWithK; the zero value uses k=60.
type RRFFusion struct {
	k int
}

// NewRRFFusion creates a fusion engine with k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{k: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion engine with a custom k.
// k must be positive.
func NewRRFFusionWithK(k int) (*RRFFusion, error) {
	if k <= 0 {
		return nil, rferrors.ConfigurationError(
			fmt.Sprintf("rrf k_constant must be positive, got %d", k), nil).
			WithSuggestion("set retrieval.rrf_k to a positive integer (60 is standard)")
	}
	return &RRFFusion{k: k}, nil
}

// K returns the smoothing constant in effect.
func (f *RRFFusion) K() int {
	if f.k <= 0 {
		return DefaultRRFConstant
	}
	return f.k
}

// accumulator sums per-document scores and remembers first-seen order.
// It lives for one fusion call.
type accumulator struct {
	order  []string
	scores map[string]float64
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{
		order:  make([]string, 0, capacity),
		scores: make(map[string]float64, capacity),
	}
}

func (a *accumulator) add(id string, v float64) {
	if _, ok := a.scores[id]; !ok {
		a.order = append(a.order, id)
	}
	a.scores[id] += v
}

// ranked sorts by score descending; equal scores keep first-seen order.
func (a *accumulator) ranked(topK int) RankedList {
	out := make(RankedList, len(a.order))
	for i, id := range a.order {
		out[i] = ScoredResult{DocID: id, Score: a.scores[id]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out.Head(topK)
}

// Fuse combines the signals and returns at most topK results.
// A document repeated within one signal counts only at its best rank.
func (f *RRFFusion) Fuse(signals []RankedList, topK int) RankedList {
	k := f.K()

	capacity := 0
	for _, s := range signals {
		capacity += len(s)
	}
	acc := newAccumulator(capacity)

	for _, signal := range signals {
		seen := make(map[string]struct{}, len(signal))
		for i, r := range signal {
			if _, dup := seen[r.DocID]; dup {
				continue
			}
			seen[r.DocID] = struct{}{}
			acc.add(r.DocID, 1.0/float64(k+i+1))
		}
	}

	return acc.ranked(topK)
}
