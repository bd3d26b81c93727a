package store

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// DefaultCollection is the chromem collection name for the corpus.
const DefaultCollection = "corpus"

// ChromemStore is a dense index backed by a chromem-go collection.
// Unlike HNSWStore it embeds queries itself through the collection's
// embedding function and searches exhaustively.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	closed     bool
}

var _ TextVectorSearcher = (*ChromemStore)(nil)

// NewChromemStore opens the collection name under path, creating it if
// needed. An empty path keeps everything in memory. embed is used for
// documents added without a vector and for every query.
func NewChromemStore(path, name string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	if embed == nil {
		return nil, fmt.Errorf("chromem store needs an embedding function")
	}
	if name == "" {
		name = DefaultCollection
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db at %s: %w", path, err)
		}
	}

	c, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}
	return &ChromemStore{db: db, collection: c}, nil
}

// Add stores documents. vectors may be nil, or hold nil entries, in which
// case the collection embeds the text.
func (s *ChromemStore) Add(ctx context.Context, ids, texts []string, vectors [][]float32) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch: %d vs %d", len(ids), len(texts))
	}
	if vectors != nil && len(vectors) != len(ids) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		docs[i] = chromem.Document{ID: id, Content: texts[i]}
		if vectors != nil {
			docs[i].Embedding = vectors[i]
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// SearchText embeds query and returns up to k nearest documents.
func (s *ChromemStore) SearchText(ctx context.Context, query string, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	// chromem rejects k above the collection size.
	if n := s.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	res, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}
	out := make([]*VectorResult, len(res))
	for i, r := range res {
		out[i] = &VectorResult{ID: r.ID, Distance: 1 - r.Similarity, Score: r.Similarity}
	}
	return out, nil
}

// Delete removes documents by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.collection.Delete(ctx, nil, nil, ids...)
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.collection.Count()
}

// Close marks the store closed. A persistent DB has already written each
// document on Add.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
