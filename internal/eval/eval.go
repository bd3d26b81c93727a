// Package eval scores a run against relevance judgements with Recall@k
// and MRR@k.
package eval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/Aman-CERP/rankfuse/internal/dataset"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// DefaultRecallKs are the Recall cutoffs reported by default.
var DefaultRecallKs = []int{1, 5, 10, 100}

// DefaultMRRK is the MRR cutoff.
const DefaultMRRK = 10

// Options selects the cutoffs to report.
type Options struct {
	RecallKs []int
	MRRK     int
	MinRel   int
}

// DefaultOptions returns k=[1,5,10,100], mrr_k=10, min_rel=1.
func DefaultOptions() Options {
	return Options{
		RecallKs: append([]int(nil), DefaultRecallKs...),
		MRRK:     DefaultMRRK,
		MinRel:   dataset.DefaultMinRelevance,
	}
}

// Validate rejects non-positive cutoffs.
func (o Options) Validate() error {
	if len(o.RecallKs) == 0 {
		return rferrors.New(rferrors.ErrCodeConfigInvalid, "at least one recall cutoff is required", nil)
	}
	for _, k := range o.RecallKs {
		if k <= 0 {
			return rferrors.New(rferrors.ErrCodeParamOutOfRange,
				fmt.Sprintf("recall cutoff must be > 0, got %d", k), nil)
		}
	}
	if o.MRRK <= 0 {
		return rferrors.New(rferrors.ErrCodeParamOutOfRange,
			fmt.Sprintf("mrr cutoff must be > 0, got %d", o.MRRK), nil)
	}
	return nil
}

// Report holds aggregated metrics. Recall is keyed by cutoff.
type Report struct {
	Recall          map[int]float64
	RecallKs        []int
	MRR             float64
	MRRK            int
	MinRel          int
	NumQrelsQueries int
	NumRunQueries   int
	NumEvaluated    int
}

// RecallAt returns the mean Recall@k for a reported cutoff.
func (r *Report) RecallAt(k int) float64 { return r.Recall[k] }

// MarshalJSON writes a flat object: Recall@k keys in cutoff order, then
// MRR@k and the counters.
func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	field := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}
	for _, k := range r.RecallKs {
		if err := field("Recall@"+strconv.Itoa(k), r.Recall[k]); err != nil {
			return nil, err
		}
	}
	pairs := []struct {
		key   string
		value any
	}{
		{"MRR@" + strconv.Itoa(r.MRRK), r.MRR},
		{"min_rel", r.MinRel},
		{"num_qrels_queries", r.NumQrelsQueries},
		{"num_run_queries", r.NumRunQueries},
		{"num_evaluated", r.NumEvaluated},
	}
	for _, p := range pairs {
		if err := field(p.key, p.value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RecallAtK is hits in the top k over the number of relevant docs.
// ok is false when relevant is empty.
func RecallAtK(relevant map[string]struct{}, ranked []string, k int) (score float64, ok bool) {
	if len(relevant) == 0 {
		return 0, false
	}
	hits := 0
	for _, id := range head(ranked, k) {
		if _, rel := relevant[id]; rel {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant)), true
}

// MRRAtK is 1/rank of the first relevant doc within k, or 0.
// ok is false when relevant is empty.
func MRRAtK(relevant map[string]struct{}, ranked []string, k int) (score float64, ok bool) {
	if len(relevant) == 0 {
		return 0, false
	}
	for i, id := range head(ranked, k) {
		if _, rel := relevant[id]; rel {
			return 1 / float64(i+1), true
		}
	}
	return 0, true
}

func head(ranked []string, k int) []string {
	if k < len(ranked) {
		return ranked[:k]
	}
	return ranked
}

// Evaluate averages metrics over every judged query. A judged query absent
// from the run contributes 0. Run queries without judgements are ignored.
func Evaluate(qrels dataset.Qrels, run []dataset.RunRecord, opts Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ranked := make(map[string][]string, len(run))
	for _, rec := range run {
		ids := make([]string, len(rec.Results))
		for i, r := range rec.Results {
			ids[i] = r.DocID
		}
		ranked[rec.QID] = ids
	}

	ks := SortedKs(opts.RecallKs)
	sums := make(map[int]float64, len(ks))
	var mrrSum float64
	evaluated := 0

	for _, qid := range qrels.QIDs() {
		rel := qrels[qid]
		if len(rel) == 0 {
			continue
		}
		evaluated++
		for _, k := range ks {
			v, _ := RecallAtK(rel, ranked[qid], k)
			sums[k] += v
		}
		v, _ := MRRAtK(rel, ranked[qid], opts.MRRK)
		mrrSum += v
	}

	report := &Report{
		Recall:          make(map[int]float64, len(ks)),
		RecallKs:        ks,
		MRRK:            opts.MRRK,
		MinRel:          opts.MinRel,
		NumQrelsQueries: len(qrels),
		NumRunQueries:   len(ranked),
		NumEvaluated:    evaluated,
	}
	for _, k := range ks {
		report.Recall[k] = mean(sums[k], evaluated)
	}
	report.MRR = mean(mrrSum, evaluated)
	return report, nil
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// EvaluateFiles loads qrels and a run from disk and evaluates them.
func EvaluateFiles(qrelsPath, runPath string, opts Options) (*Report, error) {
	qrels, err := dataset.ReadQrels(qrelsPath, opts.MinRel)
	if err != nil {
		return nil, err
	}
	run, err := dataset.ReadRun(runPath)
	if err != nil {
		return nil, err
	}
	return Evaluate(qrels, run, opts)
}

// WriteReport writes the report as indented JSON, creating parent dirs.
func WriteReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return rferrors.InternalError("failed to encode metrics", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return rferrors.New(rferrors.ErrCodeWriteFailed,
				fmt.Sprintf("failed to create %s", dir), err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return rferrors.New(rferrors.ErrCodeWriteFailed,
			fmt.Sprintf("failed to write metrics %s", path), err)
	}
	return nil
}

// SortedKs returns cutoffs ascending with duplicates removed.
func SortedKs(ks []int) []int {
	out := append([]int(nil), ks...)
	sort.Ints(out)
	j := 0
	for i, k := range out {
		if i == 0 || k != out[j-1] {
			out[j] = k
			j++
		}
	}
	return out[:j]
}
