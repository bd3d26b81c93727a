package search

// DefaultHybridAlpha weights the two signals equally.
const DefaultHybridAlpha = 0.5

// HybridFusion interpolates two min-max normalized signals:
//
//	score(d) = alpha*normA(d) + (1-alpha)*normB(d)
//
// A document absent from one signal scores 0 on that side. Alpha is used
// as given; range checks belong to configuration loading.
type HybridFusion struct {
	Alpha float64
}

// NewHybridFusion creates a two-signal fusion with the given alpha.
func NewHybridFusion(alpha float64) *HybridFusion {
	return &HybridFusion{Alpha: alpha}
}

// Fuse merges a (typically dense) and b (typically sparse) and returns at
// most topK results. Ties keep first-seen order: a's order, then b's.
func (h *HybridFusion) Fuse(a, b RankedList, topK int) RankedList {
	normA := Normalize(a)
	normB := Normalize(b)

	acc := newAccumulator(len(normA) + len(normB))
	for _, list := range []RankedList{a, b} {
		for _, r := range list {
			if _, done := acc.scores[r.DocID]; done {
				continue
			}
			acc.add(r.DocID, h.Alpha*normA[r.DocID]+(1-h.Alpha)*normB[r.DocID])
		}
	}

	return acc.ranked(topK)
}
