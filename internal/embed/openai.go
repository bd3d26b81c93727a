package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// OpenAI embedder defaults.
const (
	DefaultOpenAIModel  = "text-embedding-3-small"
	DefaultAPIKeyEnv    = "OPENAI_API_KEY"
	dimensionProbeInput = "dimension probe"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
// Any server implementing POST <BaseURL>/embeddings works (OpenAI, vLLM,
// LocalAI, llama.cpp server).
type OpenAIConfig struct {
	// BaseURL defaults to the public OpenAI API.
	BaseURL string
	APIKey  string
	Model   string

	// Dimensions, when set, is requested from the server and trusted.
	// Zero probes the server once on construction.
	Dimensions int

	BatchSize int
	Timeout   time.Duration

	Retry rferrors.RetryConfig

	MaxFailures  int
	ResetTimeout time.Duration
}

// DefaultOpenAIConfig returns the default remote embedder configuration.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:        DefaultOpenAIModel,
		BatchSize:    DefaultBatchSize,
		Timeout:      DefaultTimeout,
		Retry:        rferrors.DefaultRetryConfig(),
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API. Transient
// failures are retried with backoff behind a circuit breaker.
type OpenAIEmbedder struct {
	client  *openai.Client
	config  OpenAIConfig
	breaker *rferrors.CircuitBreaker
	logger  *slog.Logger

	mu         sync.RWMutex
	dimensions int
	closed     bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates a remote embedder. When cfg.Dimensions is zero
// it embeds a probe string to learn the vector size, which doubles as a
// reachability check.
func NewOpenAIEmbedder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	def := DefaultOpenAIConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	cfg.Retry.ShouldRetry = isTransient

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	e := &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		breaker: rferrors.NewCircuitBreaker("embedder",
			rferrors.WithMaxFailures(cfg.MaxFailures),
			rferrors.WithResetTimeout(cfg.ResetTimeout)),
		logger:     slog.Default(),
		dimensions: cfg.Dimensions,
	}

	if e.dimensions == 0 {
		vecs, err := e.embedBatch(ctx, []string{dimensionProbeInput})
		if err != nil {
			return nil, rferrors.New(rferrors.ErrCodeCapabilityUnavailable,
				"embedding endpoint is not reachable", err).
				WithDetail("base_url", clientCfg.BaseURL).
				WithDetail("model", cfg.Model)
		}
		e.dimensions = len(vecs[0])
	}

	e.logger.Debug("openai_embedder_created",
		slog.String("base_url", clientCfg.BaseURL),
		slog.String("model", cfg.Model),
		slog.Int("dimensions", e.dimensions),
		slog.Int("batch_size", cfg.BatchSize))

	return e, nil
}

// isTransient reports whether an API failure is worth retrying: rate
// limits, server errors and transport failures without a status.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, rferrors.ErrCircuitOpen) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 ||
			reqErr.HTTPStatusCode == http.StatusTooManyRequests ||
			reqErr.HTTPStatusCode >= 500
	}
	var shapeErr *responseShapeError
	return !errors.As(err, &shapeErr)
}

// responseShapeError is a reply that parsed but does not match the request.
type responseShapeError struct {
	want, got int
}

func (e *responseShapeError) Error() string {
	return fmt.Sprintf("embedding response has %d vectors, want %d", e.got, e.want)
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += e.config.BatchSize {
		hi := lo + e.config.BatchSize
		if hi > len(texts) {
			hi = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[lo:hi])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// Some servers reject empty strings.
	inputs := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			t = " "
		}
		inputs[i] = t
	}

	req := openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(e.config.Model),
		Dimensions: e.config.Dimensions,
	}

	start := time.Now()
	vecs, err := rferrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
		return rferrors.CircuitExecuteWithResult(e.breaker, func() ([][]float32, error) {
			resp, err := e.client.CreateEmbeddings(ctx, req)
			if err != nil {
				return nil, err
			}
			if len(resp.Data) != len(inputs) {
				return nil, &responseShapeError{want: len(inputs), got: len(resp.Data)}
			}
			// Servers may return data out of order; Index is authoritative.
			sort.SliceStable(resp.Data, func(i, j int) bool {
				return resp.Data[i].Index < resp.Data[j].Index
			})
			out := make([][]float32, len(resp.Data))
			for i, d := range resp.Data {
				out[i] = normalizeVector(d.Embedding)
			}
			return out, nil
		}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	e.logger.Debug("openai_embed_batch",
		slog.Int("count", len(inputs)),
		slog.Duration("elapsed", time.Since(start)))
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// ModelName returns the configured model.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports false once closed or while the circuit is open.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.breaker.State() != rferrors.StateOpen
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
