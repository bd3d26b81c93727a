package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/rankfuse/internal/search"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a coarse per-query latency class.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Ring Buffer
// =============================================================================

// ringBuffer keeps the most recent items up to a fixed capacity.
type ringBuffer[T any] struct {
	items []T
	head  int
	size  int
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	return &ringBuffer[T]{items: make([]T, capacity)}
}

func (b *ringBuffer[T]) add(item T) {
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// list returns items oldest first.
func (b *ringBuffer[T]) list() []T {
	out := make([]T, 0, b.size)
	if b.size < len(b.items) {
		return append(out, b.items[:b.size]...)
	}
	out = append(out, b.items[b.head:]...)
	return append(out, b.items[:b.head]...)
}

// =============================================================================
// Query Terms
// =============================================================================

// ExtractTerms lowercases query and keeps whitespace-separated words of at
// least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how many queries used it.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Query Profile
// =============================================================================

// ProfileConfig bounds the memory a QueryProfile uses.
type ProfileConfig struct {
	// TopTermsCapacity is the number of distinct terms tracked.
	TopTermsCapacity int

	// ZeroResultsCapacity is the number of zero-result qids kept.
	ZeroResultsCapacity int

	// TopTermsReported caps the terms in a snapshot.
	TopTermsReported int
}

// DefaultProfileConfig tracks 1000 terms, reports 20, keeps 100 qids.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		TopTermsCapacity:    1000,
		ZeroResultsCapacity: 100,
		TopTermsReported:    20,
	}
}

// ProfileSnapshot summarizes the query set of one run. It is stored in the
// run manifest.
type ProfileSnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	FailedQueries       int64                   `json:"failed_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQIDs      []string                `json:"zero_result_qids"`
	DuplicateQueries    int64                   `json:"duplicate_queries"`
	TopTerms            []TermCount             `json:"top_terms"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
}

// ZeroResultPercentage returns the share of queries that returned nothing.
func (s *ProfileSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryProfile aggregates query text, outcomes, and latency across a run.
// Safe for concurrent use; Observe matches the engine's query hook.
type QueryProfile struct {
	mu sync.Mutex

	cfg         ProfileConfig
	terms       *lru.Cache[string, int64]
	seen        map[string]struct{}
	zeroResults *ringBuffer[string]
	latencies   map[LatencyBucket]int64
	total       int64
	failed      int64
	zeroCount   int64
	duplicates  int64
}

// NewQueryProfile creates a profile. Non-positive capacities use defaults.
func NewQueryProfile(cfg ProfileConfig) *QueryProfile {
	def := DefaultProfileConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.TopTermsReported <= 0 {
		cfg.TopTermsReported = def.TopTermsReported
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	return &QueryProfile{
		cfg:         cfg,
		terms:       terms,
		seen:        make(map[string]struct{}),
		zeroResults: newRingBuffer[string](cfg.ZeroResultsCapacity),
		latencies:   make(map[LatencyBucket]int64),
	}
}

// Observe records one processed query.
func (p *QueryProfile) Observe(s search.QueryStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total++
	p.latencies[LatencyToBucket(s.Total)]++

	// A term counts once per query.
	seenTerm := map[string]bool{}
	for _, term := range ExtractTerms(s.Query) {
		if seenTerm[term] {
			continue
		}
		seenTerm[term] = true
		count, _ := p.terms.Get(term)
		p.terms.Add(term, count+1)
	}

	key := hashQuery(s.Query)
	if _, ok := p.seen[key]; ok {
		p.duplicates++
	}
	p.seen[key] = struct{}{}

	switch {
	case s.Err != nil:
		p.failed++
	case s.Returned == 0:
		p.zeroCount++
		p.zeroResults.add(s.QID)
	}
}

// hashQuery normalizes case and surrounding space before hashing.
func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the current aggregates. Terms are ordered by count,
// then alphabetically.
func (p *QueryProfile) Snapshot() *ProfileSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	terms := make([]TermCount, 0, p.terms.Len())
	for _, key := range p.terms.Keys() {
		if count, ok := p.terms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
	if len(terms) > p.cfg.TopTermsReported {
		terms = terms[:p.cfg.TopTermsReported]
	}

	latencies := make(map[LatencyBucket]int64, len(p.latencies))
	for k, v := range p.latencies {
		latencies[k] = v
	}

	return &ProfileSnapshot{
		TotalQueries:        p.total,
		FailedQueries:       p.failed,
		ZeroResultCount:     p.zeroCount,
		ZeroResultQIDs:      p.zeroResults.list(),
		DuplicateQueries:    p.duplicates,
		TopTerms:            terms,
		LatencyDistribution: latencies,
	}
}
