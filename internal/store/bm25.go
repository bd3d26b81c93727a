package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// TextTokenizerName is the registered tokenizer wrapping Tokenize.
	TextTokenizerName = "rankfuse_text"

	// TextFilterName is the registered stop-word and length filter type.
	TextFilterName = "rankfuse_filter"

	textFilterInstance = "rankfuse_filter_configured"
	textAnalyzerName   = "rankfuse_analyzer"
	contentField       = "content"
)

func init() {
	_ = registry.RegisterTokenizer(TextTokenizerName, textTokenizerConstructor)
	_ = registry.RegisterTokenFilter(TextFilterName, textFilterConstructor)
}

// BleveBM25Index implements BM25Index on Bleve v2.
// Bleve holds an exclusive file lock on disk indexes, so only one process
// may open a given path at a time.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ BM25Index = (*BleveBM25Index)(nil)

type bleveDoc struct {
	Content string `json:"content"`
}

// checkBleveIndex reports whether an existing index directory looks usable.
func checkBleveIndex(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveBM25Index opens or creates a Bleve index at path.
// An empty path creates an in-memory index. A corrupt directory is removed
// and recreated empty, with a warning.
func NewBleveBM25Index(path string, config BM25Config) (*BleveBM25Index, error) {
	m, err := buildMapping(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if bad := checkBleveIndex(path); bad != nil {
			slog.Warn("bleve_bm25_index_corrupted",
				slog.String("path", path),
				slog.String("error", bad.Error()))
			if err := os.RemoveAll(path); err != nil {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, err, bad)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveBM25Index{index: idx, path: path}, nil
}

// buildMapping wires the shared analysis pipeline into a Bleve mapping.
// The stop list is stored in the mapping so a reopened index analyzes
// queries the way it analyzed documents.
func buildMapping(config BM25Config) (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()

	minLen := config.MinTokenLength
	if minLen <= 0 {
		minLen = 1
	}
	err := m.AddCustomTokenFilter(textFilterInstance, map[string]any{
		"type":       TextFilterName,
		"stop_words": config.StopWords,
		"min_length": float64(minLen),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add token filter: %w", err)
	}

	err = m.AddCustomAnalyzer(textAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     TextTokenizerName,
		"token_filters": []string{textFilterInstance},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}
	m.DefaultAnalyzer = textAnalyzerName
	return m, nil
}

// Index adds documents in one batch. An existing ID is replaced.
func (b *BleveBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDoc{Content: doc.Content}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns documents matching any query term, best first.
// Equal scores are ordered by document ID.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" || limit <= 0 {
		return []*BM25Result{}, nil
	}

	mq := bleve.NewMatchQuery(queryStr)
	mq.SetField(contentField)
	mq.SetOperator(query.MatchQueryOperatorOr)

	req := bleve.NewSearchRequest(mq)
	req.Size = limit
	req.IncludeLocations = true
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents by ID.
func (b *BleveBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// AllIDs returns every indexed ID in lexical order.
func (b *BleveBM25Index) AllIDs() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.SortBy([]string{"_id"})

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list IDs: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Stats returns the document count.
func (b *BleveBM25Index) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return &IndexStats{}
	}
	count, _ := b.index.DocCount()
	return &IndexStats{DocumentCount: int(count)}
}

// Save is a no-op; Bleve persists each batch.
func (b *BleveBM25Index) Save() error {
	return nil
}

// Close closes the index. Safe to call twice.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for term := range hit.Locations[contentField] {
		seen[term] = struct{}{}
	}
	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

func textTokenizerConstructor(_ map[string]any, _ *registry.Cache) (analysis.Tokenizer, error) {
	return textTokenizer{}, nil
}

// textTokenizer adapts Tokenize to Bleve, recording byte offsets.
type textTokenizer struct{}

func (textTokenizer) Tokenize(input []byte) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0, 16)
	pos := 1
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		term := strings.ToLower(string(input[start:end]))
		stream = append(stream, &analysis.Token{
			Term:     []byte(term),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		start = -1
	}

	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
		i += size
	}
	flush(len(input))
	return stream
}

func textFilterConstructor(config map[string]any, _ *registry.Cache) (analysis.TokenFilter, error) {
	f := &textFilter{stop: map[string]struct{}{}, minLen: 1}
	switch words := config["stop_words"].(type) {
	case []string:
		f.stop = BuildStopWordMap(words)
	case []any:
		list := make([]string, 0, len(words))
		for _, w := range words {
			if s, ok := w.(string); ok {
				list = append(list, s)
			}
		}
		f.stop = BuildStopWordMap(list)
	}
	if n, ok := config["min_length"].(float64); ok && n > 0 {
		f.minLen = int(n)
	}
	return f, nil
}

// textFilter drops stop words and short tokens, as Analyze does.
type textFilter struct {
	stop   map[string]struct{}
	minLen int
}

func (f *textFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if utf8.RuneCount(tok.Term) < f.minLen {
			continue
		}
		if _, stop := f.stop[string(tok.Term)]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}
