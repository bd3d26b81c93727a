package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// HTTP scorer defaults.
const (
	DefaultScorerEndpoint  = "http://localhost:9659"
	DefaultScorerModel     = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	DefaultScorerTimeout   = 30 * time.Second
	DefaultScorerBatchSize = 32
)

// HTTPScorerConfig configures a remote cross-encoder.
type HTTPScorerConfig struct {
	// Endpoint is the base URL; requests go to <Endpoint>/rerank.
	Endpoint string
	Model    string
	Timeout  time.Duration

	// BatchSize caps documents per request. Larger windows are split.
	BatchSize int

	// RequestsPerSecond throttles outgoing requests across all workers.
	// 0 disables throttling.
	RequestsPerSecond float64

	Retry rferrors.RetryConfig

	// MaxFailures consecutive failures open the circuit for ResetTimeout.
	MaxFailures  int
	ResetTimeout time.Duration

	// SkipHealthCheck skips the /health probe on construction.
	SkipHealthCheck bool
}

// DefaultHTTPScorerConfig returns the default remote scorer configuration.
func DefaultHTTPScorerConfig() HTTPScorerConfig {
	return HTTPScorerConfig{
		Endpoint:     DefaultScorerEndpoint,
		Model:        DefaultScorerModel,
		Timeout:      DefaultScorerTimeout,
		BatchSize:    DefaultScorerBatchSize,
		Retry:        rferrors.DefaultRetryConfig(),
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// HTTPScorer calls a cross-encoder server speaking the /rerank protocol:
// POST {query, documents, model, top_k} and receive {results:[{index, score}]}.
// Transient failures are retried here, at the capability layer.
type HTTPScorer struct {
	client  *http.Client
	config  HTTPScorerConfig
	limiter *rate.Limiter
	breaker *rferrors.CircuitBreaker
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ PairwiseScorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a remote scorer and, unless skipped, checks /health.
func NewHTTPScorer(ctx context.Context, cfg HTTPScorerConfig) (*HTTPScorer, error) {
	def := DefaultHTTPScorerConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
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

	s := &HTTPScorer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
		breaker: rferrors.NewCircuitBreaker("pairwise_scorer",
			rferrors.WithMaxFailures(cfg.MaxFailures),
			rferrors.WithResetTimeout(cfg.ResetTimeout)),
		logger: slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.healthCheck(checkCtx); err != nil {
			return nil, rferrors.New(rferrors.ErrCodeCapabilityUnavailable,
				"pairwise scorer health check failed", err).
				WithDetail("endpoint", cfg.Endpoint)
		}
	}

	s.logger.Debug("http_scorer_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Float64("rps", cfg.RequestsPerSecond))

	return s, nil
}

func (s *HTTPScorer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// statusError is a non-200 reply from the scorer.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("scorer returned status %d: %s", e.code, e.body)
}

// isTransient reports whether a request failure is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, rferrors.ErrCircuitOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "failed to decode rerank response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// Score implements PairwiseScorer. Candidates are sent in batches of
// BatchSize; scores are merged, sorted descending (ties keep candidate
// order), and truncated to topK.
func (s *HTTPScorer) Score(ctx context.Context, query string, cands []Candidate, topK int) (RankedList, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errors.New("scorer is closed")
	}
	if len(cands) == 0 {
		return RankedList{}, nil
	}

	start := time.Now()
	out := make(RankedList, 0, len(cands))
	for lo := 0; lo < len(cands); lo += s.config.BatchSize {
		hi := lo + s.config.BatchSize
		if hi > len(cands) {
			hi = len(cands)
		}
		batch := cands[lo:hi]

		scores, err := rferrors.RetryWithResult(ctx, s.config.Retry, func() ([]float64, error) {
			return rferrors.CircuitExecuteWithResult(s.breaker, func() ([]float64, error) {
				return s.scoreBatch(ctx, query, batch)
			}, nil)
		})
		if err != nil {
			return nil, err
		}
		for i, c := range batch {
			out = append(out, ScoredResult{DocID: c.DocID, Score: scores[i]})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if topK > 0 {
		out = out.Head(topK)
	}

	s.logger.Debug("http_scorer_timing",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("doc_count", len(cands)),
		slog.Int("batches", (len(cands)+s.config.BatchSize-1)/s.config.BatchSize),
		slog.Duration("total", time.Since(start)))

	return out, nil
}

// scoreBatch sends one request and returns a score per document, aligned
// with batch order. Documents the server omits score below every returned one.
func (s *HTTPScorer) scoreBatch(ctx context.Context, query string, batch []Candidate) ([]float64, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	docs := make([]string, len(batch))
	for i, c := range batch {
		docs[i] = c.Text
	}
	payload, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: docs,
		Model:     s.config.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &decodeError{err: err}
	}

	scores := make([]float64, len(batch))
	filled := make([]bool, len(batch))
	lowest := 0.0
	for i, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(batch) {
			return nil, &decodeError{err: fmt.Errorf("result index %d out of range [0,%d)", r.Index, len(batch))}
		}
		scores[r.Index] = r.Score
		filled[r.Index] = true
		if i == 0 || r.Score < lowest {
			lowest = r.Score
		}
	}
	for i := range scores {
		if !filled[i] {
			scores[i] = lowest - 1
		}
	}
	return scores, nil
}

// Close releases idle connections. Further Score calls fail.
func (s *HTTPScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if t, ok := s.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
