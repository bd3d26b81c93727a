package search

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/rankfuse/internal/embed"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

// SignalError tags a retrieval failure with the capability that failed.
type SignalError struct {
	Capability rferrors.Capability
	Err        error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Capability, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// capabilityOf returns the failing capability recorded in err's chain.
func capabilityOf(err error) rferrors.Capability {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Capability
	}
	return rferrors.Capability("retrieval")
}

// SparseRetriever ranks by BM25 over a lexical index.
type SparseRetriever struct {
	index store.BM25Index
}

// NewSparseRetriever wraps a BM25 index.
func NewSparseRetriever(index store.BM25Index) (*SparseRetriever, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: bm25 index is required", ErrNilDependency)
	}
	return &SparseRetriever{index: index}, nil
}

// Search implements Retriever.
func (r *SparseRetriever) Search(ctx context.Context, query string, topK int) (RankedList, error) {
	hits, err := r.index.Search(ctx, query, topK)
	if err != nil {
		return nil, &SignalError{Capability: rferrors.CapabilitySparse, Err: err}
	}
	out := make(RankedList, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredResult{DocID: h.DocID, Score: h.Score})
	}
	return out, nil
}

// DenseRetriever embeds the query and searches a vector index.
type DenseRetriever struct {
	embedder embed.Embedder
	vectors  store.VectorStore
}

// NewDenseRetriever wraps an embedder and a vector store.
func NewDenseRetriever(embedder embed.Embedder, vectors store.VectorStore) (*DenseRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	return &DenseRetriever{embedder: embedder, vectors: vectors}, nil
}

// Search implements Retriever.
func (r *DenseRetriever) Search(ctx context.Context, query string, topK int) (RankedList, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &SignalError{Capability: rferrors.CapabilityEmbed, Err: err}
	}
	hits, err := r.vectors.Search(ctx, vec, topK)
	if err != nil {
		return nil, &SignalError{Capability: rferrors.CapabilityDense, Err: err}
	}
	out := make(RankedList, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredResult{DocID: h.ID, Score: float64(h.Score)})
	}
	return out, nil
}

// CollectionRetriever searches a collection that embeds queries itself.
type CollectionRetriever struct {
	collection store.TextVectorSearcher
}

// NewCollectionRetriever wraps a self-embedding collection (chromem).
func NewCollectionRetriever(c store.TextVectorSearcher) (*CollectionRetriever, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: collection is required", ErrNilDependency)
	}
	return &CollectionRetriever{collection: c}, nil
}

// Search implements Retriever.
func (r *CollectionRetriever) Search(ctx context.Context, query string, topK int) (RankedList, error) {
	hits, err := r.collection.SearchText(ctx, query, topK)
	if err != nil {
		return nil, &SignalError{Capability: rferrors.CapabilityDense, Err: err}
	}
	out := make(RankedList, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredResult{DocID: h.ID, Score: float64(h.Score)})
	}
	return out, nil
}

// fetchAll queries every signal concurrently with perSignalK each.
// Any failure fails the query.
func fetchAll(ctx context.Context, query string, perSignalK int, signals []Retriever) ([]RankedList, error) {
	lists := make([]RankedList, len(signals))
	g, gctx := errgroup.WithContext(ctx)
	for i, sig := range signals {
		g.Go(func() error {
			res, err := sig.Search(gctx, query, perSignalK)
			if err != nil {
				return err
			}
			lists[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// HybridRetriever fuses a dense and a sparse signal by weighted score.
type HybridRetriever struct {
	dense      Retriever
	sparse     Retriever
	fusion     *HybridFusion
	perSignalK int
}

// Search implements Retriever.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int) (RankedList, error) {
	lists, err := fetchAll(ctx, query, r.perSignalK, []Retriever{r.dense, r.sparse})
	if err != nil {
		return nil, err
	}
	return r.fusion.Fuse(lists[0], lists[1], topK), nil
}

// RRFRetriever fuses any number of signals by reciprocal rank.
type RRFRetriever struct {
	signals    []Retriever
	fusion     *RRFFusion
	perSignalK int
}

// Search implements Retriever.
func (r *RRFRetriever) Search(ctx context.Context, query string, topK int) (RankedList, error) {
	lists, err := fetchAll(ctx, query, r.perSignalK, r.signals)
	if err != nil {
		return nil, err
	}
	return r.fusion.Fuse(lists, topK), nil
}

// Signals holds the base retrievers available to NewRetriever.
type Signals struct {
	Sparse Retriever
	Dense  Retriever
}

// RetrieverOptions parameterizes the fused variants.
type RetrieverOptions struct {
	Alpha      float64
	RRFK       int
	PerSignalK int
}

// DefaultRetrieverOptions returns alpha 0.5, k 60, 200 results per signal.
func DefaultRetrieverOptions() RetrieverOptions {
	return RetrieverOptions{
		Alpha:      DefaultHybridAlpha,
		RRFK:       DefaultRRFConstant,
		PerSignalK: DefaultPerSignalK,
	}
}

// NewRetriever selects the retrieval variant for t. Missing signals and
// invalid fusion parameters are configuration errors.
func NewRetriever(t RetrievalType, signals Signals, opts RetrieverOptions) (Retriever, error) {
	need := func(r Retriever, name string) error {
		if r == nil {
			return rferrors.New(rferrors.ErrCodeMissingDependency,
				fmt.Sprintf("retrieval type %q needs a %s signal", t, name),
				fmt.Errorf("%w: %s retriever is required", ErrNilDependency, name))
		}
		return nil
	}
	if opts.PerSignalK <= 0 {
		opts.PerSignalK = DefaultPerSignalK
	}

	switch t {
	case RetrievalBM25:
		if err := need(signals.Sparse, "sparse"); err != nil {
			return nil, err
		}
		return signals.Sparse, nil

	case RetrievalDense:
		if err := need(signals.Dense, "dense"); err != nil {
			return nil, err
		}
		return signals.Dense, nil

	case RetrievalHybrid:
		if err := need(signals.Dense, "dense"); err != nil {
			return nil, err
		}
		if err := need(signals.Sparse, "sparse"); err != nil {
			return nil, err
		}
		return &HybridRetriever{
			dense:      signals.Dense,
			sparse:     signals.Sparse,
			fusion:     NewHybridFusion(opts.Alpha),
			perSignalK: opts.PerSignalK,
		}, nil

	case RetrievalRRF:
		if err := need(signals.Dense, "dense"); err != nil {
			return nil, err
		}
		if err := need(signals.Sparse, "sparse"); err != nil {
			return nil, err
		}
		fusion, err := NewRRFFusionWithK(opts.RRFK)
		if err != nil {
			return nil, err
		}
		return &RRFRetriever{
			signals:    []Retriever{signals.Dense, signals.Sparse},
			fusion:     fusion,
			perSignalK: opts.PerSignalK,
		}, nil

	default:
		return nil, rferrors.New(rferrors.ErrCodeUnknownMode,
			fmt.Sprintf("unknown retrieval type %q", t), nil).
			WithSuggestion("set retrieval.type to bm25, dense, hybrid, or rrf")
	}
}

var (
	_ Retriever = (*SparseRetriever)(nil)
	_ Retriever = (*DenseRetriever)(nil)
	_ Retriever = (*CollectionRetriever)(nil)
	_ Retriever = (*HybridRetriever)(nil)
	_ Retriever = (*RRFRetriever)(nil)
)
