package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

const manifestSuffix = ".manifest.json"

// Manifest describes one run for later comparison.
type Manifest struct {
	RunID      string    `json:"run_id"`
	RunPath    string    `json:"run_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	NumQueries int       `json:"num_queries"`
	FailedQIDs []string  `json:"failed_qids"`
	Config     any       `json:"config"`
	Version    string    `json:"version,omitempty"`
	Profile    any       `json:"profile,omitempty"`
}

// NewManifest starts a manifest for runPath with a fresh run id.
func NewManifest(runPath string, config any) *Manifest {
	return &Manifest{
		RunID:      uuid.NewString(),
		RunPath:    runPath,
		StartedAt:  time.Now().UTC(),
		FailedQIDs: []string{},
		Config:     config,
	}
}

// RecordFailure notes a query that produced no results because of an error.
func (m *Manifest) RecordFailure(qid string) {
	m.FailedQIDs = append(m.FailedQIDs, qid)
}

// Finish stamps the end time and query count.
func (m *Manifest) Finish(numQueries int) {
	m.FinishedAt = time.Now().UTC()
	m.NumQueries = numQueries
}

// ManifestPath returns the sidecar path for a run file.
func ManifestPath(runPath string) string {
	return strings.TrimSuffix(runPath, ".jsonl") + manifestSuffix
}

// WriteManifest writes m next to its run file and returns the path.
func WriteManifest(m *Manifest) (string, error) {
	path := ManifestPath(m.RunPath)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", rferrors.InternalError("failed to encode manifest", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", rferrors.New(rferrors.ErrCodeWriteFailed,
			fmt.Sprintf("failed to write manifest %s", path), err)
	}
	return path, nil
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rferrors.New(rferrors.ErrCodeFileNotFound,
				fmt.Sprintf("manifest not found: %s", path), err)
		}
		return nil, rferrors.IOError(fmt.Sprintf("failed to read %s", path), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeMalformedInput,
			fmt.Sprintf("invalid manifest %s", path), err)
	}
	return &m, nil
}
