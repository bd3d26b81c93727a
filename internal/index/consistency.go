package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/rankfuse/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector with no BM25 document.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a BM25 document with no vector.
	InconsistencyMissingVector
	// InconsistencyCountMismatch means the manifest and an index disagree
	// on the document count.
	InconsistencyCountMismatch
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyCountMismatch:
		return "count_mismatch"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-index issue.
type Inconsistency struct {
	Type    InconsistencyType
	DocID   string
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of BM25 documents verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// OK reports whether no issue was found.
func (r *CheckResult) OK() bool { return len(r.Inconsistencies) == 0 }

// ConsistencyChecker compares the halves of an index directory. The BM25
// index is the source of truth for which documents exist.
type ConsistencyChecker struct {
	ix       *Indexes
	manifest *Manifest
}

// NewConsistencyChecker creates a checker. manifest may be nil.
func NewConsistencyChecker(ix *Indexes, manifest *Manifest) *ConsistencyChecker {
	return &ConsistencyChecker{ix: ix, manifest: manifest}
}

// Check compares ids across indexes. A chromem collection cannot list its
// ids, so only its count is compared.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	bm25IDs, err := c.ix.BM25.AllIDs()
	if err != nil {
		return nil, err
	}
	bm25Set := make(map[string]struct{}, len(bm25IDs))
	for _, id := range bm25IDs {
		bm25Set[id] = struct{}{}
	}

	if c.manifest != nil && c.manifest.Documents != len(bm25Set) {
		issues = append(issues, countIssue("bm25", c.manifest.Documents, len(bm25Set)))
	}

	switch {
	case c.ix.Vectors != nil:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectorIDs := c.ix.Vectors.AllIDs()
		vectorSet := make(map[string]struct{}, len(vectorIDs))
		for _, id := range vectorIDs {
			vectorSet[id] = struct{}{}
			if _, ok := bm25Set[id]; !ok {
				issues = append(issues, Inconsistency{
					Type:    InconsistencyOrphanVector,
					DocID:   id,
					Details: "vector without a BM25 document",
				})
			}
		}
		for _, id := range bm25IDs {
			if _, ok := vectorSet[id]; !ok {
				issues = append(issues, Inconsistency{
					Type:    InconsistencyMissingVector,
					DocID:   id,
					Details: "BM25 document without a vector",
				})
			}
		}

	case c.ix.Collection != nil:
		if n := c.ix.Collection.Count(); n != len(bm25Set) {
			issues = append(issues, countIssue("chromem", len(bm25Set), n))
		}
	}

	return &CheckResult{
		Checked:         len(bm25Set),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

func countIssue(index string, want, got int) Inconsistency {
	return Inconsistency{
		Type:    InconsistencyCountMismatch,
		Details: fmt.Sprintf("%s holds %d documents, expected %d", index, got, want),
	}
}

// Repair deletes orphan vectors. Missing vectors need a rebuild and are
// only logged.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphans []string
	missing := 0
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphans = append(orphans, issue.DocID)
		case InconsistencyMissingVector, InconsistencyCountMismatch:
			missing++
		}
	}

	if len(orphans) > 0 && c.ix.Vectors != nil {
		if err := c.ix.Vectors.Delete(ctx, orphans); err != nil {
			return err
		}
		if err := c.ix.Vectors.Save(store.VectorPath(c.ix.Dir)); err != nil {
			return err
		}
		slog.Info("deleted orphan vector entries", slog.Int("count", len(orphans)))
	}

	if missing > 0 {
		slog.Warn("index has missing entries, run 'rankfuse index --force' to rebuild",
			slog.Int("missing_count", missing))
	}
	return nil
}

// QuickCheck only compares document counts.
func (c *ConsistencyChecker) QuickCheck() bool {
	bm25Count := 0
	if stats := c.ix.BM25.Stats(); stats != nil {
		bm25Count = stats.DocumentCount
	}
	denseCount := bm25Count
	switch {
	case c.ix.Vectors != nil:
		denseCount = c.ix.Vectors.Count()
	case c.ix.Collection != nil:
		denseCount = c.ix.Collection.Count()
	}

	consistent := bm25Count == denseCount
	if c.manifest != nil {
		consistent = consistent && c.manifest.Documents == bm25Count
	}
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("bm25", bm25Count),
			slog.Int("dense", denseCount))
	}
	return consistent
}
