package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// RerankConfig holds the static second-stage parameters.
type RerankConfig struct {
	Enabled bool

	// CandidateK is the size of the window handed to the pairwise scorer.
	CandidateK int

	// OutK is the final list length per query.
	OutK int

	Mode RerankMode

	// Lambda is the rerank-trust weight in fusion mode.
	// 0 ignores the reranker, 1 uses only its score.
	Lambda float64

	// UseMinMax normalizes both score maps before interpolation.
	UseMinMax bool
}

// DefaultRerankConfig returns the defaults used when a config omits rerank.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Enabled:    false,
		CandidateK: 20,
		OutK:       100,
		Mode:       RerankFusion,
		Lambda:     0.2,
		UseMinMax:  true,
	}
}

// Validate checks the parameters against the first-stage depth. A disabled
// stage is never checked: the engine then truncates to retrievalTopK. OutK
// smaller than CandidateK is allowed and truncates the reranked block.
func (c RerankConfig) Validate(retrievalTopK int) error {
	if !c.Enabled {
		return nil
	}
	if c.Mode != RerankHard && c.Mode != RerankFusion {
		return rferrors.New(rferrors.ErrCodeUnknownMode,
			fmt.Sprintf("unknown rerank mode %q", c.Mode), nil).
			WithSuggestion("set rerank.mode to hard or fusion")
	}
	if c.OutK < 0 {
		return rferrors.New(rferrors.ErrCodeParamOutOfRange,
			fmt.Sprintf("rerank out_k must be non-negative, got %d", c.OutK), nil)
	}
	if c.OutK > retrievalTopK {
		return rferrors.New(rferrors.ErrCodeParamOutOfRange,
			fmt.Sprintf("rerank out_k (%d) must be <= retrieval top_k (%d)", c.OutK, retrievalTopK), nil).
			WithSuggestion("lower rerank.top_k or raise retrieval.top_k")
	}
	if c.CandidateK < 0 {
		return rferrors.New(rferrors.ErrCodeParamOutOfRange,
			fmt.Sprintf("rerank candidate_k must be non-negative, got %d", c.CandidateK), nil)
	}
	if c.CandidateK > retrievalTopK {
		return rferrors.New(rferrors.ErrCodeParamOutOfRange,
			fmt.Sprintf("rerank candidate_k (%d) must be <= retrieval top_k (%d)", c.CandidateK, retrievalTopK), nil).
			WithSuggestion("lower rerank.candidate_k or raise retrieval.top_k")
	}
	return nil
}

// AnomalyFunc receives every data anomaly observed while processing a query.
type AnomalyFunc func(qid string, anomaly *rferrors.RankError)

// Orchestrator applies the optional rerank stage to one query's base list.
// It holds no per-query state and is safe for concurrent use.
type Orchestrator struct {
	cfg       RerankConfig
	scorer    PairwiseScorer
	docs      DocTextLookup
	logger    *slog.Logger
	onAnomaly AnomalyFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger (default: slog.Default()).
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAnomalyHook registers a callback for data anomalies, in addition to
// the warn-level log line each one produces.
func WithAnomalyHook(fn AnomalyFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onAnomaly = fn
	}
}

// NewOrchestrator validates cfg against retrievalTopK and returns an
// Orchestrator. All failures are configuration errors. A nil docs lookup
// is treated as empty; a nil scorer is only accepted when rerank is off.
func NewOrchestrator(cfg RerankConfig, retrievalTopK int, scorer PairwiseScorer, docs DocTextLookup, opts ...OrchestratorOption) (*Orchestrator, error) {
	if err := cfg.Validate(retrievalTopK); err != nil {
		return nil, err
	}
	if cfg.Enabled && scorer == nil {
		return nil, rferrors.New(rferrors.ErrCodeMissingDependency,
			"rerank is enabled but no pairwise scorer is configured",
			fmt.Errorf("%w: pairwise scorer is required", ErrNilDependency))
	}
	if docs == nil {
		docs = DocTexts{}
	}

	o := &Orchestrator{
		cfg:    cfg,
		scorer: scorer,
		docs:   docs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the validated configuration.
func (o *Orchestrator) Config() RerankConfig {
	return o.cfg
}

// Process turns a query's base list into its final list.
//
// A scorer failure is returned as a CapabilityError carrying qid; it is
// never retried here. Missing document text and reranker ids outside the
// candidate window are data anomalies: they are reported and processing
// continues.
func (o *Orchestrator) Process(ctx context.Context, qid, query string, base RankedList) (RankedList, error) {
	if !o.cfg.Enabled {
		return base.Head(o.cfg.OutK), nil
	}
	if len(base) == 0 {
		return RankedList{}, nil
	}

	start := time.Now()
	base = base.Excluding(nil)
	cand := base.Head(o.cfg.CandidateK)
	if len(cand) == 0 {
		return base.Head(o.cfg.OutK), nil
	}

	retScores := cand.Scores()
	inputs := make([]Candidate, len(cand))
	for i, r := range cand {
		text, ok := o.docs.Lookup(r.DocID)
		if !ok {
			o.anomaly(qid, rferrors.DataAnomaly(rferrors.ErrCodeDocTextMissing,
				"no text for candidate; scoring with empty text").
				WithDetail("doc_id", r.DocID))
		}
		inputs[i] = Candidate{DocID: r.DocID, Text: text}
	}

	scoreStart := time.Now()
	reranked, err := o.scorer.Score(ctx, query, inputs, o.cfg.CandidateK)
	scoreDuration := time.Since(scoreStart)
	if err != nil {
		return nil, rferrors.CapabilityError(qid, rferrors.CapabilityPairwise, err)
	}
	reranked = o.sanitize(qid, reranked, retScores)

	var out RankedList
	switch o.cfg.Mode {
	case RerankHard:
		out = takeover(base, reranked, o.cfg.OutK)
	default:
		out = interpolate(base, cand, reranked, o.cfg.Lambda, o.cfg.UseMinMax, o.cfg.OutK)
	}

	o.logger.Debug("rerank_applied",
		slog.String("qid", qid),
		slog.String("query", truncateQuery(query, 50)),
		slog.String("mode", string(o.cfg.Mode)),
		slog.Int("base_count", len(base)),
		slog.Int("candidates", len(cand)),
		slog.Int("reranked", len(reranked)),
		slog.Int("output_count", len(out)),
		slog.Duration("score_call", scoreDuration),
		slog.Duration("total", time.Since(start)))

	return out, nil
}

// sanitize drops repeated ids and flags ids the scorer invented.
func (o *Orchestrator) sanitize(qid string, reranked RankedList, window map[string]float64) RankedList {
	clean := make(RankedList, 0, len(reranked))
	seen := make(map[string]struct{}, len(reranked))
	for _, r := range reranked {
		if _, dup := seen[r.DocID]; dup {
			o.anomaly(qid, rferrors.DataAnomaly(rferrors.ErrCodeRerankDuplicateID,
				"reranker returned a doc_id twice; keeping the first").
				WithDetail("doc_id", r.DocID))
			continue
		}
		seen[r.DocID] = struct{}{}
		if _, ok := window[r.DocID]; !ok {
			o.anomaly(qid, rferrors.DataAnomaly(rferrors.ErrCodeRerankIDOutside,
				"reranker returned a doc_id outside the candidate window; using base score 0").
				WithDetail("doc_id", r.DocID))
		}
		clean = append(clean, r)
	}
	return clean
}

func (o *Orchestrator) anomaly(qid string, a *rferrors.RankError) {
	a.WithDetail("qid", qid)
	o.logger.Warn("data_anomaly", rferrors.LogArgs(a)...)
	if o.onAnomaly != nil {
		o.onAnomaly(qid, a)
	}
}

// takeover puts the reranked block first, then the rest of base in base
// order, and truncates.
func takeover(base, reranked RankedList, outK int) RankedList {
	out := make(RankedList, 0, len(base)+len(reranked))
	out = append(out, reranked...)
	out = append(out, base.Excluding(idSet(reranked))...)
	return out.Head(outK)
}

// interpolate blends base and rerank scores for every candidate (plus any
// out-of-window id the scorer returned, at base score 0), sorts the blend,
// then appends the rest of base in base order and truncates.
func interpolate(base, cand, reranked RankedList, lambda float64, useMinMax bool, outK int) RankedList {
	ret := cand.Scores()
	rr := reranked.Scores()
	if useMinMax {
		ret = NormalizeScores(ret)
		rr = NormalizeScores(rr)
	}

	acc := newAccumulator(len(cand) + len(reranked))
	for _, list := range []RankedList{cand, reranked} {
		for _, r := range list {
			if _, done := acc.scores[r.DocID]; done {
				continue
			}
			acc.add(r.DocID, (1-lambda)*ret[r.DocID]+lambda*rr[r.DocID])
		}
	}
	fused := acc.ranked(len(acc.order))

	out := make(RankedList, 0, len(base)+len(fused))
	out = append(out, fused...)
	out = append(out, base.Excluding(idSet(fused))...)
	return out.Head(outK)
}
