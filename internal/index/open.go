package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Aman-CERP/rankfuse/internal/config"
	"github.com/Aman-CERP/rankfuse/internal/embed"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/search"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

// Options locates an index directory and picks its backends.
type Options struct {
	Dir           string
	BM25Backend   string
	VectorBackend string
	BM25          store.BM25Config
}

// OptionsFromConfig reads the retrieval section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dir:           cfg.Retrieval.IndexDir,
		BM25Backend:   cfg.Retrieval.BM25Backend,
		VectorBackend: cfg.Retrieval.VectorBackend,
		BM25:          store.DefaultBM25Config(),
	}
}

// Indexes bundles the sparse and dense halves of one index directory.
// Exactly one of Vectors and Collection is set when a dense side exists.
type Indexes struct {
	Dir        string
	BM25       store.BM25Index
	Vectors    store.VectorStore
	Collection *store.ChromemStore

	embedder embed.Embedder
}

// Create opens fresh, writable indexes in opts.Dir. With force the
// previous index files are removed first.
func Create(opts Options, embedder embed.Embedder, force bool) (*Indexes, error) {
	if embedder == nil {
		return nil, rferrors.ConfigurationError("indexing needs an embedder", nil)
	}
	if force {
		if err := removeIndexFiles(opts.Dir); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(ManifestPath(opts.Dir)); err == nil {
		return nil, rferrors.New(rferrors.ErrCodeConfigInvalid,
			fmt.Sprintf("an index already exists in %s", opts.Dir), nil).
			WithSuggestion("pass --force to rebuild it")
	}

	bm25, err := store.NewBM25IndexWithBackend(store.BM25BasePath(opts.Dir), opts.BM25, opts.BM25Backend)
	if err != nil {
		return nil, rferrors.New(rferrors.ErrCodeCorruptIndex, "failed to open BM25 index", err)
	}
	ix := &Indexes{Dir: opts.Dir, BM25: bm25, embedder: embedder}

	switch opts.VectorBackend {
	case config.VectorBackendChromem:
		ix.Collection, err = store.NewChromemStore(store.ChromemPath(opts.Dir), store.DefaultCollection, embedder.Embed)
	default:
		ix.Vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	}
	if err != nil {
		_ = ix.Close()
		return nil, rferrors.New(rferrors.ErrCodeCorruptIndex, "failed to open vector index", err)
	}
	return ix, nil
}

// Open loads an existing index for querying. The backends come from the
// index manifest. A nil embedder opens only the sparse side. A dense side
// built with a different vector width is rejected.
func Open(opts Options, embedder embed.Embedder) (*Indexes, *Manifest, error) {
	m, err := ReadManifest(opts.Dir)
	if err != nil {
		return nil, nil, err
	}

	bm25, err := store.NewBM25IndexWithBackend(store.BM25BasePath(opts.Dir), opts.BM25, m.BM25Backend)
	if err != nil {
		return nil, nil, rferrors.New(rferrors.ErrCodeCorruptIndex, "failed to open BM25 index", err)
	}
	ix := &Indexes{Dir: opts.Dir, BM25: bm25, embedder: embedder}
	if embedder == nil {
		return ix, m, nil
	}

	if dims := embedder.Dimensions(); m.Dimensions != 0 && dims != m.Dimensions {
		_ = ix.Close()
		return nil, nil, dimensionError(m.Dimensions, dims, m.EmbedderModel, embedder.ModelName())
	}

	switch m.VectorBackend {
	case config.VectorBackendChromem:
		ix.Collection, err = store.NewChromemStore(store.ChromemPath(opts.Dir), store.DefaultCollection, embedder.Embed)
	default:
		err = ix.openHNSW(embedder.Dimensions())
	}
	if err != nil {
		_ = ix.Close()
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return nil, nil, dimensionError(dm.Expected, dm.Got, m.EmbedderModel, embedder.ModelName())
		}
		return nil, nil, rferrors.New(rferrors.ErrCodeCorruptIndex, "failed to open vector index", err)
	}

	if m.EmbedderModel != "" && m.EmbedderModel != embedder.ModelName() {
		slog.Warn("embedder_model_differs",
			slog.String("index_model", m.EmbedderModel),
			slog.String("query_model", embedder.ModelName()))
	}
	return ix, m, nil
}

func (ix *Indexes) openHNSW(dims int) error {
	path := store.VectorPath(ix.Dir)
	stored, err := store.StoredDimensions(path)
	if err != nil {
		return err
	}
	if stored != 0 && stored != dims {
		return store.ErrDimensionMismatch{Expected: stored, Got: dims}
	}
	vs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return err
	}
	if stored != 0 {
		if err := vs.Load(path); err != nil {
			_ = vs.Close()
			return err
		}
	}
	ix.Vectors = vs
	return nil
}

func dimensionError(indexDims, queryDims int, indexModel, queryModel string) error {
	return rferrors.New(rferrors.ErrCodeConfigInvalid,
		fmt.Sprintf("embedder %q produces %d dimensions but the index was built with %q at %d",
			queryModel, queryDims, indexModel, indexDims),
		store.ErrDimensionMismatch{Expected: indexDims, Got: queryDims}).
		WithSuggestion("use the embedder the index was built with, or rebuild with 'rankfuse index --force'")
}

// Signals returns base retrievers over the opened indexes.
func (ix *Indexes) Signals() (search.Signals, error) {
	var sig search.Signals
	sparse, err := search.NewSparseRetriever(ix.BM25)
	if err != nil {
		return sig, err
	}
	sig.Sparse = sparse

	switch {
	case ix.Collection != nil:
		sig.Dense, err = search.NewCollectionRetriever(ix.Collection)
	case ix.Vectors != nil:
		sig.Dense, err = search.NewDenseRetriever(ix.embedder, ix.Vectors)
	}
	if err != nil {
		return search.Signals{}, err
	}
	return sig, nil
}

// Add writes one batch to both halves. vectors line up with ids.
func (ix *Indexes) Add(ctx context.Context, docs []*store.Document, vectors [][]float32) error {
	if err := ix.BM25.Index(ctx, docs); err != nil {
		return fmt.Errorf("failed to index in BM25: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	switch {
	case ix.Collection != nil:
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Content
		}
		if err := ix.Collection.Add(ctx, ids, texts, vectors); err != nil {
			return fmt.Errorf("failed to add to chromem collection: %w", err)
		}
	case ix.Vectors != nil:
		if err := ix.Vectors.Add(ctx, ids, vectors); err != nil {
			return fmt.Errorf("failed to add to vector store: %w", err)
		}
	}
	return nil
}

// Save flushes both halves to disk. chromem persists on every write.
func (ix *Indexes) Save() error {
	if err := ix.BM25.Save(); err != nil {
		return fmt.Errorf("failed to save BM25 index: %w", err)
	}
	if ix.Vectors != nil {
		if err := ix.Vectors.Save(store.VectorPath(ix.Dir)); err != nil {
			return fmt.Errorf("failed to save vector store: %w", err)
		}
	}
	return nil
}

// Close releases every open index.
func (ix *Indexes) Close() error {
	var errs []error
	if ix.BM25 != nil {
		errs = append(errs, ix.BM25.Close())
	}
	if ix.Vectors != nil {
		errs = append(errs, ix.Vectors.Close())
	}
	if ix.Collection != nil {
		errs = append(errs, ix.Collection.Close())
	}
	return errors.Join(errs...)
}

func removeIndexFiles(dir string) error {
	base := store.BM25BasePath(dir)
	paths := []string{
		base + ".db", base + ".db-wal", base + ".db-shm", base + ".bleve",
		store.VectorPath(dir), store.VectorPath(dir) + ".meta",
		store.ChromemPath(dir),
		ManifestPath(dir),
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return rferrors.New(rferrors.ErrCodeWriteFailed, fmt.Sprintf("failed to remove %s", p), err)
		}
	}
	return nil
}
