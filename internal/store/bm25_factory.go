package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend names a lexical index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default). Several processes may
	// read the same file.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2. Single process per index directory.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend opens a lexical index under basePath, adding the
// backend's extension (.db or .bleve). An empty basePath gives an
// in-memory index.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch BM25Backend(backend) {
	case BM25BackendSQLite, "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case BM25BackendBleve:
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend has files under basePath, or ""
// when neither does.
func DetectBM25Backend(basePath string) BM25Backend {
	if info, err := os.Stat(basePath + ".db"); err == nil && !info.IsDir() {
		return BM25BackendSQLite
	}
	if info, err := os.Stat(basePath + ".bleve"); err == nil && info.IsDir() {
		return BM25BackendBleve
	}
	return ""
}

// Index file layout under an index directory.
const (
	bm25BaseName     = "bm25"
	vectorFileName   = "vectors.hnsw"
	chromemDirName   = "chromem"
	ManifestFileName = "index.json"
)

// BM25BasePath returns the extension-less lexical index path in dir.
func BM25BasePath(dir string) string {
	return filepath.Join(dir, bm25BaseName)
}

// VectorPath returns the HNSW graph path in dir.
func VectorPath(dir string) string {
	return filepath.Join(dir, vectorFileName)
}

// ChromemPath returns the chromem persistence directory in dir.
func ChromemPath(dir string) string {
	return filepath.Join(dir, chromemDirName)
}
