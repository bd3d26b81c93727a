// Package search fuses ranked lists from independent retrieval signals and
// orchestrates a second-stage pairwise rerank over a candidate window.
//
// Three fusion algebras live here: min-max normalization, Reciprocal Rank
// Fusion over N signals, and two-signal weighted interpolation (hybrid).
// The rerank Orchestrator merges a reranker's output back into the base
// list under either takeover (hard) or interpolated (fusion) policy.
package search

import (
	"fmt"
	"strings"
)

// ScoredResult is one document and the score a single signal gave it.
// Scores are signal-local and only comparable after normalization.
type ScoredResult struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// RankedList is ordered best-first. Position 0 is rank 1.
type RankedList []ScoredResult

// Head returns the first k entries as a new slice. k <= 0 yields an empty list.
func (l RankedList) Head(k int) RankedList {
	if k <= 0 {
		return RankedList{}
	}
	if k > len(l) {
		k = len(l)
	}
	out := make(RankedList, k)
	copy(out, l[:k])
	return out
}

// IDs returns doc ids in list order.
func (l RankedList) IDs() []string {
	ids := make([]string, len(l))
	for i, r := range l {
		ids[i] = r.DocID
	}
	return ids
}

// Scores returns doc_id -> score. The first occurrence of a repeated id wins.
func (l RankedList) Scores() map[string]float64 {
	m := make(map[string]float64, len(l))
	for _, r := range l {
		if _, ok := m[r.DocID]; !ok {
			m[r.DocID] = r.Score
		}
	}
	return m
}

// Excluding returns the entries whose id is not in drop, preserving order.
// Repeated ids in l are emitted once.
func (l RankedList) Excluding(drop map[string]struct{}) RankedList {
	out := make(RankedList, 0, len(l))
	seen := make(map[string]struct{}, len(l))
	for _, r := range l {
		if _, skip := drop[r.DocID]; skip {
			continue
		}
		if _, dup := seen[r.DocID]; dup {
			continue
		}
		seen[r.DocID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// idSet builds a membership set from ranked list ids.
func idSet(l RankedList) map[string]struct{} {
	s := make(map[string]struct{}, len(l))
	for _, r := range l {
		s[r.DocID] = struct{}{}
	}
	return s
}

// Candidate is a document handed to the pairwise scorer.
type Candidate struct {
	DocID string
	Text  string
}

// RetrievalType selects the first-stage retrieval variant.
type RetrievalType string

const (
	RetrievalBM25   RetrievalType = "bm25"
	RetrievalDense  RetrievalType = "dense"
	RetrievalHybrid RetrievalType = "hybrid"
	RetrievalRRF    RetrievalType = "rrf"
)

// ParseRetrievalType validates a configured retrieval type.
func ParseRetrievalType(s string) (RetrievalType, error) {
	switch t := RetrievalType(strings.ToLower(strings.TrimSpace(s))); t {
	case RetrievalBM25, RetrievalDense, RetrievalHybrid, RetrievalRRF:
		return t, nil
	default:
		return "", fmt.Errorf("unknown retrieval type %q (use bm25, dense, hybrid, rrf)", s)
	}
}

// RerankMode selects how reranker output is merged into the base list.
type RerankMode string

const (
	// RerankHard lets reranked candidates take over the top of the list.
	RerankHard RerankMode = "hard"
	// RerankFusion interpolates base and rerank scores with lambda.
	RerankFusion RerankMode = "fusion"
)

// ParseRerankMode validates a configured rerank mode.
func ParseRerankMode(s string) (RerankMode, error) {
	switch m := RerankMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RerankHard, RerankFusion:
		return m, nil
	default:
		return "", fmt.Errorf("unknown rerank mode %q (use hard or fusion)", s)
	}
}

// truncateQuery shortens a query for log lines.
func truncateQuery(q string, maxLen int) string {
	if len(q) <= maxLen {
		return q
	}
	return q[:maxLen] + "..."
}
