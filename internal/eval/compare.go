package eval

import (
	"fmt"
	"strconv"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// DefaultRegressionThreshold is the relative drop in a metric that counts
// as a regression (5%). The same rise counts as an improvement.
const DefaultRegressionThreshold = 0.05

// Comparison statuses.
const (
	StatusRegressed = "REGRESSION"
	StatusImproved  = "IMPROVED"
	StatusUnchanged = "OK"
)

// MetricDelta compares one metric between two runs.
type MetricDelta struct {
	Name     string  `json:"name"`
	Baseline float64 `json:"baseline"`
	Current  float64 `json:"current"`

	// Change is current minus baseline.
	Change float64 `json:"change"`

	// Relative is Change over Baseline; 0 when Baseline is 0.
	Relative float64 `json:"relative"`
	Status   string  `json:"status"`
}

// Comparison is the outcome of comparing a run against a baseline run.
type Comparison struct {
	Threshold    float64       `json:"threshold"`
	Metrics      []MetricDelta `json:"metrics"`
	Regressions  int           `json:"regressions"`
	Improvements int           `json:"improvements"`
	Unchanged    int           `json:"unchanged"`
}

// Regressed reports whether any metric dropped past the threshold.
func (c *Comparison) Regressed() bool { return c.Regressions > 0 }

// Compare reports every metric both reports share, Recall@k ascending then
// MRR. Both reports must use the same MRR cutoff.
func Compare(baseline, current *Report, threshold float64) (*Comparison, error) {
	if threshold < 0 {
		return nil, rferrors.New(rferrors.ErrCodeParamOutOfRange,
			fmt.Sprintf("regression threshold must be non-negative, got %g", threshold), nil)
	}
	if baseline.MRRK != current.MRRK {
		return nil, rferrors.New(rferrors.ErrCodeConfigInvalid,
			fmt.Sprintf("reports use different MRR cutoffs (%d vs %d)", baseline.MRRK, current.MRRK), nil)
	}

	c := &Comparison{Threshold: threshold}
	add := func(name string, base, cur float64) {
		d := MetricDelta{Name: name, Baseline: base, Current: cur, Change: cur - base}
		if base > 0 {
			d.Relative = d.Change / base
		}
		switch {
		case base > 0 && d.Relative < -threshold:
			d.Status = StatusRegressed
			c.Regressions++
		case (base > 0 && d.Relative > threshold) || (base == 0 && cur > 0):
			d.Status = StatusImproved
			c.Improvements++
		default:
			d.Status = StatusUnchanged
			c.Unchanged++
		}
		c.Metrics = append(c.Metrics, d)
	}

	for _, k := range current.RecallKs {
		base, ok := baseline.Recall[k]
		if !ok {
			continue
		}
		add("Recall@"+strconv.Itoa(k), base, current.Recall[k])
	}
	add("MRR@"+strconv.Itoa(current.MRRK), baseline.MRR, current.MRR)
	return c, nil
}
