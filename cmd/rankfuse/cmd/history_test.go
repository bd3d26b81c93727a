package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/rankfuse/internal/dataset"
)

func TestHistoryCmd_ListsRecordedRuns(t *testing.T) {
	// Given: two runs recorded into one history database
	isolate(t)
	f := newFixture(t)
	f.buildIndex(t)
	historyPath := filepath.Join(f.dir, "history.db")
	for _, retrieval := range []string{"bm25", "rrf"} {
		_, err := execute(t, "run", "-c", f.config(t, retrieval), "--queries", f.queries,
			"--out", filepath.Join(f.dir, retrieval+".jsonl"), "--history", historyPath)
		require.NoError(t, err)
	}

	// When: listing as JSON with terms
	out, err := execute(t, "history", "--history", historyPath, "--terms", "3", "--json")
	require.NoError(t, err, out)

	// Then: both runs and the shared query terms are reported
	var got struct {
		Runs []struct {
			Label     string `json:"label"`
			Retrieval string `json:"retrieval"`
			Queries   int64  `json:"queries"`
		} `json:"runs"`
		Terms []struct {
			Term  string `json:"term"`
			Count int64  `json:"count"`
		} `json:"terms"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Runs, 2)
	labels := []string{got.Runs[0].Label, got.Runs[1].Label}
	assert.ElementsMatch(t, []string{"bm25", "rrf"}, labels)
	for _, r := range got.Runs {
		assert.Equal(t, int64(3), r.Queries)
	}
	require.NotEmpty(t, got.Terms)
	assert.Equal(t, int64(2), got.Terms[0].Count)
}

func TestHistoryCmd_HumanOutput(t *testing.T) {
	isolate(t)
	f := newFixture(t)
	f.buildIndex(t)
	historyPath := filepath.Join(f.dir, "history.db")
	_, err := execute(t, "run", "-c", f.config(t, "bm25"), "--queries", f.queries,
		"--out", filepath.Join(f.dir, "sparse.jsonl"), "--history", historyPath)
	require.NoError(t, err)

	out, err := execute(t, "history", "--history", historyPath)

	require.NoError(t, err)
	assert.Contains(t, out, "sparse")
	assert.Contains(t, out, "3 queries")
}

func TestHistoryCmd_MissingDatabase(t *testing.T) {
	isolate(t)

	_, err := execute(t, "history", "--history", filepath.Join(t.TempDir(), "none.db"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run history")
}

func TestRunCmd_ManifestCarriesProfile(t *testing.T) {
	// Given: a finished run
	isolate(t)
	f := newFixture(t)
	f.buildIndex(t)
	runPath := filepath.Join(f.dir, "profiled.jsonl")
	_, err := execute(t, "run", "-c", f.config(t, "bm25"), "--queries", f.queries, "--out", runPath)
	require.NoError(t, err)

	// When: reading its manifest
	m, err := dataset.ReadManifest(dataset.ManifestPath(runPath))
	require.NoError(t, err)

	// Then: the query profile is embedded
	profile, ok := m.Profile.(map[string]any)
	require.True(t, ok, "profile missing from manifest")
	assert.Equal(t, 3.0, profile["total_queries"])
}
