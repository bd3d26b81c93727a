package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/Aman-CERP/rankfuse/internal/store"
)

// StaticEmbedder generates embeddings by hashing word and character
// trigram features into a fixed-size vector. It needs no network or model
// download, so it is the default provider for offline runs and tests.
// Similar wording gives similar vectors; meaning does not.
type StaticEmbedder struct {
	mu        sync.RWMutex
	closed    bool
	stopWords map[string]struct{}
}

// Feature weights.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{stopWords: store.DefaultStopWords()}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	if strings.TrimSpace(text) == "" {
		return make([]float32, StaticDimensions), nil
	}
	return normalizeVector(e.generateVector(text)), nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	tokens := store.Tokenize(text)
	for _, token := range store.FilterStopWords(tokens, e.stopWords) {
		vector[hashToIndex(token, StaticDimensions)] += tokenWeight
	}

	// Trigrams run over each token separately so they never span a word
	// boundary; this keeps "vitamin" close to "vitamins".
	for _, token := range tokens {
		for _, g := range extractNgrams(token, ngramSize) {
			vector[hashToIndex("#"+g, StaticDimensions)] += ngramWeight
		}
	}
	return vector
}

// extractNgrams returns the rune n-grams of s. Tokens shorter than n
// yield themselves.
func extractNgrams(s string, n int) []string {
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static"
}

// Available checks if the embedder is ready (true until closed).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed. Safe to call more than once.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
