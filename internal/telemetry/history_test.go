package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistory(t *testing.T) *History {
	t.Helper()

	h, err := OpenHistory(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func sampleRun(id string, started time.Time) RunRecord {
	return RunRecord{
		RunID:      id,
		Label:      "rrf",
		RunPath:    "runs/rrf.jsonl",
		Retrieval:  "rrf",
		Rerank:     true,
		StartedAt:  started,
		Duration:   1500 * time.Millisecond,
		Queries:    3,
		Failed:     1,
		ZeroResult: 0,
	}
}

func TestHistory_RecordAndListRuns(t *testing.T) {
	// Given: an empty history
	h := setupHistory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// When: two runs are recorded out of order
	require.NoError(t, h.RecordRun(sampleRun("older", base), nil))
	require.NoError(t, h.RecordRun(sampleRun("newer", base.Add(time.Hour)), nil))

	// Then: they are listed newest first with all fields intact
	runs, err := h.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	if diff := cmp.Diff(sampleRun("older", base), runs[1]); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_ListRunsLimit(t *testing.T) {
	h := setupHistory(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.RecordRun(sampleRun(id, base.Add(time.Duration(i)*time.Minute)), nil))
	}

	runs, err := h.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}

func TestHistory_RecordRunWithProfile(t *testing.T) {
	// Given: a run with a profile snapshot
	h := setupHistory(t)
	snap := &ProfileSnapshot{
		TotalQueries: 3,
		TopTerms: []TermCount{
			{Term: "fusion", Count: 2},
			{Term: "dense", Count: 1},
		},
		LatencyDistribution: map[LatencyBucket]int64{BucketP10: 2, BucketP500: 1},
	}

	// When: recorded
	require.NoError(t, h.RecordRun(sampleRun("r1", time.Now()), snap))

	// Then: the latency histogram and terms are queryable
	latency, err := h.LatencyCounts("r1")
	require.NoError(t, err)
	if diff := cmp.Diff(snap.LatencyDistribution, latency); diff != "" {
		t.Errorf("latency mismatch (-want +got):\n%s", diff)
	}

	terms, err := h.TopTerms(10)
	require.NoError(t, err)
	if diff := cmp.Diff(snap.TopTerms, terms); diff != "" {
		t.Errorf("terms mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_TermsAccumulateAcrossRuns(t *testing.T) {
	h := setupHistory(t)
	snap := &ProfileSnapshot{TopTerms: []TermCount{{Term: "fusion", Count: 2}}}

	require.NoError(t, h.RecordRun(sampleRun("r1", time.Now()), snap))
	require.NoError(t, h.RecordRun(sampleRun("r2", time.Now()), snap))

	terms, err := h.TopTerms(10)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "fusion", Count: 4}}, terms)
}

func TestHistory_RecordSameRunReplaces(t *testing.T) {
	h := setupHistory(t)
	rec := sampleRun("r1", time.Now())
	require.NoError(t, h.RecordRun(rec, nil))

	rec.Failed = 0
	require.NoError(t, h.RecordRun(rec, nil))

	runs, err := h.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(0), runs[0].Failed)
}

func TestHistory_Reopen(t *testing.T) {
	// Given: a history written and closed
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(path)
	require.NoError(t, err)
	require.NoError(t, h.RecordRun(sampleRun("r1", time.Now()), nil))
	require.NoError(t, h.Close())

	// When: opened again
	h, err = OpenHistory(path)
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	// Then: the run is still there
	runs, err := h.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].RunID)
}

func TestHistory_EmptyQueries(t *testing.T) {
	h := setupHistory(t)

	runs, err := h.ListRuns(5)
	require.NoError(t, err)
	assert.Empty(t, runs)

	terms, err := h.TopTerms(5)
	require.NoError(t, err)
	assert.Empty(t, terms)

	latency, err := h.LatencyCounts("missing")
	require.NoError(t, err)
	assert.Empty(t, latency)
}
