package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

// ManifestVersion is bumped when the on-disk layout changes.
const ManifestVersion = 1

// Manifest records how an index directory was built, so a later run can
// open the same backends with a compatible embedder.
type Manifest struct {
	Version       int       `json:"version"`
	DocsPath      string    `json:"docs_path"`
	Documents     int       `json:"documents"`
	Skipped       int       `json:"skipped"`
	BM25Backend   string    `json:"bm25_backend"`
	VectorBackend string    `json:"vector_backend"`
	EmbedderModel string    `json:"embedder_model"`
	Dimensions    int       `json:"dimensions"`
	MaxDocChars   int       `json:"max_doc_chars"`
	BuiltAt       time.Time `json:"built_at"`
}

// ManifestPath returns the manifest path inside dir.
func ManifestPath(dir string) string {
	return filepath.Join(dir, store.ManifestFileName)
}

// WriteManifest stores m in dir.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return rferrors.InternalError("failed to encode index manifest", err)
	}
	tmp := ManifestPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed, "failed to write index manifest", err)
	}
	if err := os.Rename(tmp, ManifestPath(dir)); err != nil {
		_ = os.Remove(tmp)
		return rferrors.New(rferrors.ErrCodeWriteFailed, "failed to write index manifest", err)
	}
	return nil
}

// ReadManifest loads the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := ManifestPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rferrors.New(rferrors.ErrCodeFileNotFound,
				fmt.Sprintf("no index in %s", dir), err).
				WithSuggestion("run 'rankfuse index' first")
		}
		return nil, rferrors.IOError(fmt.Sprintf("failed to read %s", path), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptIndex,
			fmt.Sprintf("invalid index manifest %s", path), err)
	}
	if m.Version != ManifestVersion {
		return nil, rferrors.New(rferrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index manifest version %d is not supported (want %d)", m.Version, ManifestVersion), nil).
			WithSuggestion("rebuild with 'rankfuse index --force'")
	}
	return &m, nil
}
