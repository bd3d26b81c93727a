package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/search"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

func writeLines(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// =============================================================================
// Queries
// =============================================================================

func TestReadQueries_PreservesOrderAndCastsNumericQID(t *testing.T) {
	// Given: string and numeric qids with a blank line between
	path := writeLines(t, "queries.jsonl",
		`{"qid":"q2","query":"second"}`,
		``,
		`{"qid":7,"query":"seventh"}`,
		`{"qid":"q1","query":"first"}`,
	)

	// When: reading
	got, err := ReadQueries(path)

	// Then: file order is kept and 7 becomes "7"
	require.NoError(t, err)
	want := []search.Query{{QID: "q2", Text: "second"}, {QID: "7", Text: "seventh"}, {QID: "q1", Text: "first"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadQueries mismatch (-want +got):\n%s", diff)
	}
}

func TestReadQueries_MalformedLineReportsPosition(t *testing.T) {
	path := writeLines(t, "queries.jsonl",
		`{"qid":"q1","query":"ok"}`,
		`{"qid":"q2","query":`,
	)

	_, err := ReadQueries(path)

	require.Error(t, err)
	assert.Equal(t, rferrors.ErrCodeMalformedInput, rferrors.GetCode(err))
	assert.Contains(t, err.Error(), ":2:")
}

func TestReadQueries_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no qid", `{"query":"text"}`},
		{"null qid", `{"qid":null,"query":"text"}`},
		{"no query", `{"qid":"q1"}`},
		{"numeric query", `{"qid":"q1","query":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadQueries(writeLines(t, "queries.jsonl", tt.line))
			assert.Equal(t, rferrors.ErrCodeMalformedInput, rferrors.GetCode(err))
		})
	}
}

func TestReadQueries_MissingFile(t *testing.T) {
	_, err := ReadQueries(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Equal(t, rferrors.ErrCodeFileNotFound, rferrors.GetCode(err))
}

func TestReadQueries_EmptyFile(t *testing.T) {
	got, err := ReadQueries(writeLines(t, "queries.jsonl"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// =============================================================================
// Docs
// =============================================================================

func TestDocText(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		text     string
		maxChars int
		want     string
	}{
		{"title and body", "Title", "Body", 0, "Title\nBody"},
		{"no title trims leading newline", "", "Body", 0, "Body"},
		{"no body trims trailing newline", "Title", "", 0, "Title"},
		{"both empty", "", "", 0, ""},
		{"truncated", "Title", "Body", 7, "Title\nB"},
		{"limit above length", "T", "B", 100, "T\nB"},
		{"runes not bytes", "", "héllo wörld", 5, "héllo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DocText(tt.title, tt.text, tt.maxChars))
		})
	}
}

func TestLoadDocTexts_SkipsMissingIDAndKeepsLastDuplicate(t *testing.T) {
	// Given: a doc without id and a duplicated id
	path := writeLines(t, "docs.jsonl",
		`{"doc_id":"d1","title":"One","text":"first"}`,
		`{"title":"orphan","text":"no id"}`,
		`{"doc_id":42,"text":"numeric"}`,
		`{"doc_id":"d1","title":"One","text":"second"}`,
	)
	var anomalies []*rferrors.RankError

	// When: loading texts
	texts, err := LoadDocTexts(path, 0, func(a *rferrors.RankError) { anomalies = append(anomalies, a) })

	// Then: the orphan is reported and the later d1 wins
	require.NoError(t, err)
	assert.Equal(t, search.DocTexts{"d1": "One\nsecond", "42": "numeric"}, texts)
	require.Len(t, anomalies, 1)
	assert.Equal(t, rferrors.ErrCodeRecordSkipped, anomalies[0].Code)
	assert.Equal(t, "2", anomalies[0].Details["line"])
}

func TestScanDocs_StreamsInFileOrder(t *testing.T) {
	path := writeLines(t, "docs.jsonl",
		`{"doc_id":"b","text":"bee"}`,
		`{"doc_id":"a","text":"ay"}`,
	)

	var got []store.Document
	err := ScanDocs(path, 0, nil, func(doc *store.Document) error {
		got = append(got, *doc)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []store.Document{{ID: "b", Content: "bee"}, {ID: "a", Content: "ay"}}, got)
}

func TestScanDocs_CallbackErrorStops(t *testing.T) {
	path := writeLines(t, "docs.jsonl", `{"doc_id":"a"}`, `{"doc_id":"b"}`)
	stop := rferrors.InternalError("stop", nil)

	calls := 0
	err := ScanDocs(path, 0, nil, func(*store.Document) error {
		calls++
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// Qrels
// =============================================================================

func TestReadQrels_AppliesThreshold(t *testing.T) {
	// Given: graded judgements including a missing grade
	path := writeLines(t, "qrels.jsonl",
		`{"qid":"q1","doc_id":"d1","relevance":2}`,
		`{"qid":"q1","doc_id":"d2","relevance":1}`,
		`{"qid":"q1","doc_id":"d3","relevance":0}`,
		`{"qid":"q2","doc_id":"d4"}`,
		`{"qid":3,"doc_id":5,"relevance":1}`,
	)

	// When: reading with the default threshold
	qrels, err := ReadQrels(path, DefaultMinRelevance)

	// Then: only grade >= 1 survives and q2 has no relevant docs
	require.NoError(t, err)
	want := Qrels{
		"q1": {"d1": {}, "d2": {}},
		"3":  {"5": {}},
	}
	assert.Equal(t, want, qrels)
	assert.Equal(t, []string{"3", "q1"}, qrels.QIDs())
}

func TestReadQrels_HigherThreshold(t *testing.T) {
	path := writeLines(t, "qrels.jsonl",
		`{"qid":"q1","doc_id":"d1","relevance":2}`,
		`{"qid":"q1","doc_id":"d2","relevance":1}`,
	)

	qrels, err := ReadQrels(path, 2)

	require.NoError(t, err)
	assert.Equal(t, Qrels{"q1": {"d1": {}}}, qrels)
}

func TestReadQrels_MissingDocID(t *testing.T) {
	_, err := ReadQrels(writeLines(t, "qrels.jsonl", `{"qid":"q1","relevance":1}`), 1)
	assert.Equal(t, rferrors.ErrCodeMalformedInput, rferrors.GetCode(err))
}

// =============================================================================
// Run files
// =============================================================================

func TestRunWriter_WritesJSONLInCallOrder(t *testing.T) {
	// Given: a writer under a directory that does not exist yet
	path := filepath.Join(t.TempDir(), "runs", "bm25.jsonl")
	w, err := CreateRun(path)
	require.NoError(t, err)

	// When: writing two records, one failed query with nil results
	require.NoError(t, w.Write("q1", search.RankedList{{DocID: "d<1>", Score: 1.5}, {DocID: "d2", Score: 0.25}}))
	require.NoError(t, w.Write("q2", nil))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	// Then: one JSON object per line, HTML left unescaped, empty list as []
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"qid":"q1","results":[{"doc_id":"d<1>","score":1.5},{"doc_id":"d2","score":0.25}]}`, lines[0])
	assert.Contains(t, lines[0], "d<1>")
	assert.JSONEq(t, `{"qid":"q2","results":[]}`, lines[1])
}

func TestRunWriter_WriteAfterClose(t *testing.T) {
	w, err := CreateRun(filepath.Join(t.TempDir(), "run.jsonl"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Write("q1", nil)
	assert.Equal(t, rferrors.ErrCodeWriteFailed, rferrors.GetCode(err))
}

func TestReadRun_RoundTripsWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	w, err := CreateRun(path)
	require.NoError(t, err)
	require.NoError(t, w.Write("q2", search.RankedList{{DocID: "b", Score: 2}, {DocID: "a", Score: 1}}))
	require.NoError(t, w.Write("q1", search.RankedList{}))
	require.NoError(t, w.Close())

	got, err := ReadRun(path)

	require.NoError(t, err)
	want := []RunRecord{
		{QID: "q2", Results: search.RankedList{{DocID: "b", Score: 2}, {DocID: "a", Score: 1}}},
		{QID: "q1", Results: search.RankedList{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadRun mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRun_SkipsResultsWithoutDocID(t *testing.T) {
	path := writeLines(t, "run.jsonl",
		`{"qid":"q1","results":[{"score":9},{"doc_id":"d1","score":1},{"doc_id":null}]}`,
		`{"qid":"q2"}`,
	)

	got, err := ReadRun(path)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, search.RankedList{{DocID: "d1", Score: 1}}, got[0].Results)
	assert.Empty(t, got[1].Results)
}

// =============================================================================
// Manifest
// =============================================================================

func TestManifestPath(t *testing.T) {
	assert.Equal(t, "runs/bm25.manifest.json", ManifestPath("runs/bm25.jsonl"))
	assert.Equal(t, "runs/out.manifest.json", ManifestPath("runs/out"))
}

func TestManifest_WriteAndRead(t *testing.T) {
	// Given: a finished manifest with one failure
	runPath := filepath.Join(t.TempDir(), "run.jsonl")
	m := NewManifest(runPath, map[string]any{"retrieval": map[string]any{"type": "rrf"}})
	m.RecordFailure("q9")
	m.Finish(3)

	// When: writing and reading back
	path, err := WriteManifest(m)
	require.NoError(t, err)
	got, err := ReadManifest(path)

	// Then: identity and counts survive
	require.NoError(t, err)
	assert.Len(t, got.RunID, 36)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, 3, got.NumQueries)
	assert.Equal(t, []string{"q9"}, got.FailedQIDs)
	assert.False(t, got.FinishedAt.Before(got.StartedAt))
}

func TestNewManifest_UniqueRunIDs(t *testing.T) {
	a := NewManifest("a.jsonl", nil)
	b := NewManifest("a.jsonl", nil)
	assert.NotEqual(t, a.RunID, b.RunID)
}
