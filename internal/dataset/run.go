package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/search"
)

// RunRecord is one line of a run file.
type RunRecord struct {
	QID     string            `json:"qid"`
	Results search.RankedList `json:"results"`
}

// RunWriter appends run records to a JSONL file. Safe for concurrent use,
// though callers that need input order must serialize Write themselves.
type RunWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	n    int
}

// CreateRun truncates or creates path, making parent directories.
func CreateRun(path string) (*RunWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, rferrors.New(rferrors.ErrCodeWriteFailed,
				fmt.Sprintf("failed to create run directory %s", dir), err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, rferrors.New(rferrors.ErrCodeWriteFailed,
			fmt.Sprintf("failed to create run file %s", path), err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &RunWriter{path: path, f: f, buf: buf, enc: enc}, nil
}

// Path returns the file being written.
func (w *RunWriter) Path() string { return w.path }

// Count returns the number of records written.
func (w *RunWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Write appends one record. A nil result list is written as [].
func (w *RunWriter) Write(qid string, results search.RankedList) error {
	if results == nil {
		results = search.RankedList{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed, "run writer is closed", nil)
	}
	if err := w.enc.Encode(RunRecord{QID: qid, Results: results}); err != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed,
			fmt.Sprintf("failed to write run record for %s", qid), err)
	}
	w.n++
	return nil
}

// Close flushes and closes the file. Safe to call more than once.
func (w *RunWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	w.f = nil
	if flushErr != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed, "failed to flush run file", flushErr)
	}
	if closeErr != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed, "failed to close run file", closeErr)
	}
	return nil
}

// ReadRun loads a run file in qid order of first appearance. Results
// without a doc_id are dropped. A repeated qid replaces the earlier list.
func ReadRun(path string) ([]RunRecord, error) {
	var out []RunRecord
	index := make(map[string]int)
	err := scanJSONL(path, func(lineNo int, rec gjson.Result) error {
		qid, ok := idString(rec.Get("qid"))
		if !ok {
			return malformed(path, lineNo, "missing qid")
		}
		results := search.RankedList{}
		rec.Get("results").ForEach(func(_, item gjson.Result) bool {
			docID, ok := idString(item.Get("doc_id"))
			if !ok {
				return true
			}
			results = append(results, search.ScoredResult{DocID: docID, Score: item.Get("score").Float()})
			return true
		})
		if i, seen := index[qid]; seen {
			out[i].Results = results
			return nil
		}
		index[qid] = len(out)
		out = append(out, RunRecord{QID: qid, Results: results})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
