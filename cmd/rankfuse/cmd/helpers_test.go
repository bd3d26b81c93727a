package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// rankfuseEnv lists every variable that can change a loaded config.
var rankfuseEnv = []string{
	"RANKFUSE_RETRIEVAL_TYPE", "RANKFUSE_TOP_K", "RANKFUSE_ALPHA", "RANKFUSE_RRF_K",
	"RANKFUSE_PER_SIGNAL_K", "RANKFUSE_BM25_BACKEND", "RANKFUSE_VECTOR_BACKEND",
	"RANKFUSE_INDEX_DIR", "RANKFUSE_EMBEDDER", "RANKFUSE_EMBEDDER_MODEL",
	"RANKFUSE_EMBEDDER_ENDPOINT", "RANKFUSE_EMBED_CACHE", "RANKFUSE_RERANK",
	"RANKFUSE_RERANK_MODE", "RANKFUSE_RERANK_LAMBDA", "RANKFUSE_RERANK_CANDIDATE_K",
	"RANKFUSE_RERANK_PROVIDER", "RANKFUSE_RERANK_ENDPOINT", "RANKFUSE_WORKERS",
	"RANKFUSE_LOG_LEVEL",
}

// isolate points HOME and XDG_CONFIG_HOME at a temp dir and clears
// RANKFUSE_* overrides so only the test's config applies.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, name := range rankfuseEnv {
		t.Setenv(name, "")
	}
	return home
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path string, lines ...string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// fixture is a tiny corpus with one judged relevant doc per topic.
type fixture struct {
	dir     string
	docs    string
	queries string
	qrels   string
	index   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		docs:    filepath.Join(dir, "docs.jsonl"),
		queries: filepath.Join(dir, "queries.jsonl"),
		qrels:   filepath.Join(dir, "qrels.jsonl"),
		index:   filepath.Join(dir, "index"),
	}
	writeFile(t, f.docs,
		`{"doc_id":"d1","title":"Go concurrency","text":"Goroutines and channels make concurrent programs simple."}`,
		`{"doc_id":"d2","title":"Python packaging","text":"Pip and wheels distribute Python libraries."}`,
		`{"title":"orphan","text":"no id on this line"}`,
		`{"doc_id":"d3","title":"Rust ownership","text":"The borrow checker enforces memory safety."}`,
		`{"doc_id":"d4","title":"Channels in Go","text":"A channel connects goroutines."}`,
	)
	writeFile(t, f.queries,
		`{"qid":"q1","query":"goroutines channels"}`,
		`{"qid":"q2","query":"python wheels"}`,
		`{"qid":"q3","query":"borrow checker memory"}`,
	)
	writeFile(t, f.qrels,
		`{"qid":"q1","doc_id":"d1","relevance":1}`,
		`{"qid":"q1","doc_id":"d4","relevance":1}`,
		`{"qid":"q2","doc_id":"d2","relevance":1}`,
		`{"qid":"q3","doc_id":"d3","relevance":2}`,
		`{"qid":"q3","doc_id":"d1","relevance":0}`,
	)
	return f
}

// config writes a YAML config for the fixture; extra lines are appended
// under the given top-level sections.
func (f fixture) config(t *testing.T, retrievalType string, rerank ...string) string {
	t.Helper()
	lines := []string{
		"retrieval:",
		"  type: " + retrievalType,
		"  top_k: 10",
		"  index_dir: " + f.index,
		"embedder:",
		"  provider: static",
		"rerank:",
		"  top_k: 10",
		"  candidate_k: 5",
		"  docs_path: " + f.docs,
	}
	lines = append(lines, rerank...)
	lines = append(lines,
		"run:",
		"  workers: 2",
		"logging:",
		"  level: error",
	)
	return writeFile(t, filepath.Join(f.dir, retrievalType+".yaml"), lines...)
}

// buildIndex runs 'rankfuse index' for the fixture.
func (f fixture) buildIndex(t *testing.T) {
	t.Helper()
	cfg := f.config(t, "hybrid")
	out, err := execute(t, "index", "-c", cfg)
	require.NoError(t, err, out)
}
