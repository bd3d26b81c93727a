package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// fakeEmbeddingServer speaks the /v1/embeddings protocol. Each input maps
// to [len(text), 1, 0] before normalization. Data is returned in reverse
// order to exercise index sorting.
type fakeEmbeddingServer struct {
	mu         sync.Mutex
	calls      int
	inputs     [][]string
	failFirst  int
	failStatus int
	dropLast   bool
}

func (f *fakeEmbeddingServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.calls++
		call := f.calls
		f.inputs = append(f.inputs, req.Input)
		f.mu.Unlock()

		if call <= f.failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.failStatus)
			_, _ = w.Write([]byte(`{"error":{"message":"try later","type":"server_error"}}`))
			return
		}

		n := len(req.Input)
		if f.dropLast {
			n--
		}
		data := make([]openai.Embedding, 0, n)
		for i := n - 1; i >= 0; i-- {
			data = append(data, openai.Embedding{
				Object:    "embedding",
				Index:     i,
				Embedding: []float32{float32(len(req.Input[i])), 1, 0},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{
			Object: "list",
			Data:   data,
			Model:  openai.EmbeddingModel(req.Model),
		})
	}
}

func (f *fakeEmbeddingServer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbeddingServer) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.inputs))
	for i, in := range f.inputs {
		out[i] = len(in)
	}
	return out
}

func fastRetry() rferrors.RetryConfig {
	return rferrors.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestOpenAI(t *testing.T, fake *fakeEmbeddingServer, dims int) (*OpenAIEmbedder, error) {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultOpenAIConfig()
	cfg.BaseURL = srv.URL + "/v1"
	cfg.APIKey = "test-key"
	cfg.Model = "test-embed"
	cfg.Dimensions = dims
	cfg.BatchSize = 2
	cfg.Retry = fastRetry()
	return NewOpenAIEmbedder(context.Background(), cfg)
}

// ============================================================================
// Construction
// ============================================================================

func TestOpenAIEmbedder_ProbesDimensions(t *testing.T) {
	// Given: no configured dimensions
	fake := &fakeEmbeddingServer{}

	// When: the embedder is created
	e, err := newTestOpenAI(t, fake, 0)

	// Then: one probe request learned the vector size
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, "test-embed", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestOpenAIEmbedder_UnreachableIsCapabilityUnavailable(t *testing.T) {
	fake := &fakeEmbeddingServer{failFirst: 100, failStatus: http.StatusServiceUnavailable}

	_, err := newTestOpenAI(t, fake, 0)

	require.Error(t, err)
	assert.Equal(t, rferrors.ErrCodeCapabilityUnavailable, rferrors.GetCode(err))
	assert.Equal(t, 3, fake.callCount(), "probe is retried before giving up")
}

// ============================================================================
// Embedding
// ============================================================================

func TestOpenAIEmbedder_EmbedBatch_SplitsAndOrders(t *testing.T) {
	// Given: a batch size of 2 and configured dimensions
	fake := &fakeEmbeddingServer{}
	e, err := newTestOpenAI(t, fake, 3)
	require.NoError(t, err)
	assert.Zero(t, fake.callCount())

	// When: five texts are embedded
	texts := []string{"a", "bb", "ccc", "", "eeeee"}
	got, err := e.EmbedBatch(context.Background(), texts)

	// Then: three requests went out and vectors follow input order
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, fake.batchSizes())
	require.Len(t, got, 5)
	for i, text := range texts {
		n := len(text)
		if n == 0 {
			n = 1 // blank input is sent as a single space
		}
		want := normalizeVector([]float32{float32(n), 1, 0})
		assert.InDeltaSlice(t, want, got[i], 1e-6, "text %d", i)
	}

	single, err := e.Embed(context.Background(), "ccc")
	require.NoError(t, err)
	assert.InDeltaSlice(t, got[2], single, 1e-6)
}

func TestOpenAIEmbedder_RetriesServerErrors(t *testing.T) {
	fake := &fakeEmbeddingServer{failFirst: 2, failStatus: http.StatusTooManyRequests}
	e, err := newTestOpenAI(t, fake, 3)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "query")

	require.NoError(t, err)
	assert.Equal(t, 3, fake.callCount())
}

func TestOpenAIEmbedder_ClientErrorNotRetried(t *testing.T) {
	fake := &fakeEmbeddingServer{failFirst: 100, failStatus: http.StatusUnauthorized}
	e, err := newTestOpenAI(t, fake, 3)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "query")

	require.Error(t, err)
	assert.Equal(t, 1, fake.callCount())
}

func TestOpenAIEmbedder_ShortResponseNotRetried(t *testing.T) {
	fake := &fakeEmbeddingServer{dropLast: true}
	e, err := newTestOpenAI(t, fake, 3)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})

	var shapeErr *responseShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 2, shapeErr.want)
	assert.Equal(t, 1, fake.callCount())
}

func TestOpenAIEmbedder_Close(t *testing.T) {
	fake := &fakeEmbeddingServer{}
	e, err := newTestOpenAI(t, fake, 3)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
	_, err = e.Embed(context.Background(), "q")
	assert.Error(t, err)
	assert.Zero(t, fake.callCount())

	empty, err := (&OpenAIEmbedder{config: DefaultOpenAIConfig()}).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 502}, true},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, false},
		{"request error 503", &openai.RequestError{HTTPStatusCode: 503}, true},
		{"request error 400", &openai.RequestError{HTTPStatusCode: 400}, false},
		{"short response", &responseShapeError{want: 2, got: 1}, false},
		{"cancelled", context.Canceled, false},
		{"circuit open", rferrors.ErrCircuitOpen, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
