package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// Query is one input query.
type Query struct {
	QID  string
	Text string
}

// Outcome is the result of processing one query. Err is a CapabilityError
// when a collaborator failed; Results is then empty. A query that
// legitimately retrieved nothing has an empty Results and nil Err.
type Outcome struct {
	QID     string
	Results RankedList
	Err     error
}

// QueryStats describes one processed query for telemetry.
type QueryStats struct {
	QID       string
	Query     string
	Retrieved int
	Returned  int
	Retrieval time.Duration
	Rerank    time.Duration
	Total     time.Duration
	Err       error
}

// EngineConfig configures batch execution.
type EngineConfig struct {
	// TopK is the first-stage retrieval depth (retrieval.top_k).
	TopK int

	// Workers is the number of queries processed concurrently.
	// 0 uses GOMAXPROCS.
	Workers int

	// FailFast aborts the run on the first capability error instead of
	// recording it against the query and continuing.
	FailFast bool
}

// DefaultEngineConfig returns top_k 100 with 4 workers.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{TopK: 100, Workers: 4}
}

// Engine runs retrieval and the optional rerank stage over a query set.
// Queries are independent; only the retriever, scorer, and doc lookup are
// shared, and those are read-only.
type Engine struct {
	retriever Retriever
	rerank    *Orchestrator
	config    EngineConfig
	logger    *slog.Logger
	onQuery   func(QueryStats)
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger (default: slog.Default()).
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQueryHook registers a callback invoked once per processed query.
// It may be called from several goroutines at once.
func WithQueryHook(fn func(QueryStats)) EngineOption {
	return func(e *Engine) {
		e.onQuery = fn
	}
}

// NewEngine creates an engine. A nil orchestrator means rerank is
// disabled and results are truncated to TopK.
func NewEngine(retriever Retriever, rerank *Orchestrator, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", ErrNilDependency)
	}
	if config.TopK <= 0 {
		return nil, rferrors.ConfigurationError(
			fmt.Sprintf("retrieval top_k must be positive, got %d", config.TopK), nil)
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}

	if rerank == nil {
		disabled := DefaultRerankConfig()
		disabled.OutK = config.TopK
		var err error
		rerank, err = NewOrchestrator(disabled, config.TopK, nil, nil)
		if err != nil {
			return nil, err
		}
	} else if err := rerank.Config().Validate(config.TopK); err != nil {
		return nil, err
	}

	e := &Engine{
		retriever: retriever,
		rerank:    rerank,
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process runs one query: retrieve TopK, then rerank.
// Collaborator failures come back as CapabilityError carrying the qid.
func (e *Engine) Process(ctx context.Context, q Query) (RankedList, error) {
	stats := QueryStats{QID: q.QID, Query: q.Text}
	start := time.Now()
	defer func() {
		stats.Total = time.Since(start)
		if e.onQuery != nil {
			e.onQuery(stats)
		}
	}()

	base, err := e.retriever.Search(ctx, q.Text, e.config.TopK)
	stats.Retrieval = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			stats.Err = ctxErr
			return nil, ctxErr
		}
		stats.Err = rferrors.CapabilityError(q.QID, capabilityOf(err), err)
		return nil, stats.Err
	}
	stats.Retrieved = len(base)

	rerankStart := time.Now()
	results, err := e.rerank.Process(ctx, q.QID, q.Text, base)
	stats.Rerank = time.Since(rerankStart)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			stats.Err = ctxErr
			return nil, ctxErr
		}
		stats.Err = err
		return nil, err
	}
	stats.Returned = len(results)

	e.logger.Debug("query_processed",
		slog.String("qid", q.QID),
		slog.String("query", truncateQuery(q.Text, 50)),
		slog.Int("retrieved", len(base)),
		slog.Int("returned", len(results)),
		slog.Duration("retrieval", stats.Retrieval),
		slog.Duration("rerank", stats.Rerank))

	return results, nil
}

// Run processes queries on a worker pool and hands each Outcome to sink in
// input order, regardless of completion order. Capability errors are
// delivered in the Outcome and the run continues unless FailFast is set.
// Any other error (context cancellation, sink failure) stops the run.
func (e *Engine) Run(ctx context.Context, queries []Query, sink func(Outcome) error) error {
	slots := make([]chan Outcome, len(queries))
	for i := range slots {
		slots[i] = make(chan Outcome, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	pool, pctx := errgroup.WithContext(gctx)
	pool.SetLimit(e.config.Workers)

	g.Go(func() error {
		for i, q := range queries {
			if pctx.Err() != nil {
				break
			}
			pool.Go(func() error {
				results, err := e.Process(pctx, q)
				if err != nil && !rferrors.IsCapability(err) {
					return err
				}
				if results == nil {
					results = RankedList{}
				}
				slots[i] <- Outcome{QID: q.QID, Results: results, Err: err}

				if err != nil {
					if e.config.FailFast {
						return err
					}
					e.logger.Warn("query_failed", rferrors.LogArgs(err)...)
				}
				return nil
			})
		}
		return pool.Wait()
	})

	g.Go(func() error {
		for i := range queries {
			select {
			case out := <-slots[i]:
				if err := sink(out); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

// RunAll is Run collecting outcomes into a slice in input order.
func (e *Engine) RunAll(ctx context.Context, queries []Query) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(queries))
	err := e.Run(ctx, queries, func(o Outcome) error {
		outcomes = append(outcomes, o)
		return nil
	})
	return outcomes, err
}
