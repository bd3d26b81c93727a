package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/search"
)

func TestObserveQuery_CountsByStatus(t *testing.T) {
	// Given: fresh metrics
	m := NewRunMetrics("test")

	// When: two successes and one capability failure are observed
	m.ObserveQuery(search.QueryStats{QID: "q1", Retrieved: 10, Total: time.Millisecond})
	m.ObserveQuery(search.QueryStats{QID: "q2", Retrieved: 3, Total: time.Millisecond})
	m.ObserveQuery(search.QueryStats{
		QID: "q3",
		Err: rferrors.CapabilityError("q3", rferrors.CapabilityPairwise, errors.New("boom")),
	})

	// Then: status and failure code series reflect them
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queries.WithLabelValues(StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(rferrors.ErrCodePairwiseScoreFailed)))
	assert.Equal(t, 3, testutil.CollectAndCount(m.latency))
}

func TestObserveQuery_UncodedErrorIsUnknown(t *testing.T) {
	m := NewRunMetrics("test")

	m.ObserveQuery(search.QueryStats{QID: "q1", Err: errors.New("context canceled")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("unknown")))
}

func TestObserveAnomaly_ByCode(t *testing.T) {
	m := NewRunMetrics("test")

	m.ObserveAnomaly("q1", rferrors.DataAnomaly(rferrors.ErrCodeDocTextMissing, "missing"))
	m.ObserveAnomaly("q1", rferrors.DataAnomaly(rferrors.ErrCodeDocTextMissing, "missing"))
	m.ObserveAnomaly("q2", rferrors.DataAnomaly(rferrors.ErrCodeRerankIDOutside, "outside"))
	m.ObserveAnomaly("q3", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.anomalies.WithLabelValues(rferrors.ErrCodeDocTextMissing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues(rferrors.ErrCodeRerankIDOutside)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues("unknown")))
}

func TestObserveQuery_Concurrent(t *testing.T) {
	m := NewRunMetrics("test")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.ObserveQuery(search.QueryStats{Retrieved: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(m.queries.WithLabelValues(StatusOK)))
}

func TestWriteTextfile(t *testing.T) {
	// Given: a run with one query
	m := NewRunMetrics("bm25")
	m.ObserveQuery(search.QueryStats{QID: "q1", Retrieved: 5})

	// When: exporting
	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteTextfile(path))

	// Then: the file carries namespaced series with the run label
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `rankfuse_queries_total{run="bm25",status="ok"} 1`)
	assert.Contains(t, string(data), "rankfuse_query_stage_seconds_bucket")
}

func TestWriteTextfile_BadDirectory(t *testing.T) {
	m := NewRunMetrics("x")

	err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "run.prom"))

	assert.Equal(t, rferrors.ErrCodeWriteFailed, rferrors.GetCode(err))
}
