package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore over a coder/hnsw graph with string IDs.
//
// Deletes and replacements are lazy: the graph node stays but loses its ID
// mapping and is skipped at search time. coder/hnsw misbehaves when the
// last node is removed, so nodes are never deleted from the graph.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	keys    map[string]uint64
	ids     map[uint64]string
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswSidecar is the gob-encoded companion to an exported graph.
type hnswSidecar struct {
	Keys    map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty store. Dimensions must be positive.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	def := DefaultVectorStoreConfig(cfg.Dimensions)
	if cfg.Metric == "" {
		cfg.Metric = def.Metric
	}
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}

	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		keys:   make(map[string]uint64),
		ids:    make(map[uint64]string),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add inserts vectors. Cosine stores unit-normalize a copy of each vector.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
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

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if old, ok := s.keys[id]; ok {
			delete(s.ids, old)
		}

		key := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(key, s.prepare(vectors[i])))
		s.keys[id] = key
		s.ids[key] = id
	}
	return nil
}

func (s *HNSWStore) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric != "l2" {
		normalizeInPlace(out)
	}
	return out
}

// Search returns up to k live neighbours of query, closest first.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.keys) == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)

	// Orphaned nodes can crowd out live ones; over-fetch to compensate.
	want := k
	if orphans := s.graph.Len() - len(s.keys); orphans > 0 {
		want += orphans
	}
	nodes := s.graph.Search(q, want)

	results := make([]*VectorResult, 0, k)
	for _, n := range nodes {
		id, live := s.ids[n.Key]
		if !live {
			continue
		}
		d := s.graph.Distance(q, n.Value)
		results = append(results, &VectorResult{ID: id, Distance: d, Score: similarity(d, s.config.Metric)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete forgets the given IDs. Unknown IDs are ignored.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	for _, id := range ids {
		if key, ok := s.keys[id]; ok {
			delete(s.ids, key)
			delete(s.keys, id)
		}
	}
	return nil
}

// AllIDs returns every live ID in lexical order.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains reports whether id is live.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.keys[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.keys)
}

// Dimensions returns the configured vector width.
func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// Save writes the graph to path and the ID mapping to path+".meta".
// Both files are written to a temp name and renamed into place.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := writeAtomic(path, func(f *os.File) error {
		return s.graph.Export(f)
	}); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	side := hnswSidecar{Keys: s.keys, NextKey: s.nextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(side)
	}); err != nil {
		return fmt.Errorf("failed to save id mapping: %w", err)
	}
	return nil
}

// Load replaces the store's contents with a graph previously written by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	side, err := readSidecar(path + ".meta")
	if err != nil {
		return err
	}
	if side.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: side.Config.Dimensions}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open graph: %w", err)
	}
	defer f.Close()

	g := newGraph(side.Config)
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.graph = g
	s.config = side.Config
	s.keys = side.Keys
	s.nextKey = side.NextKey
	s.ids = make(map[uint64]string, len(side.Keys))
	for id, key := range side.Keys {
		s.ids[key] = id
	}
	return nil
}

// Close releases the graph. Safe to call twice.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// StoredDimensions reads the vector width recorded next to a saved graph.
// It returns 0 and no error when nothing has been saved at path.
func StoredDimensions(path string) (int, error) {
	side, err := readSidecar(path + ".meta")
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return side.Config.Dimensions, nil
}

func readSidecar(path string) (*hnswSidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var side hnswSidecar
	if err := gob.NewDecoder(f).Decode(&side); err != nil {
		return nil, fmt.Errorf("failed to decode id mapping: %w", err)
	}
	return &side, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// similarity maps a distance into [0,1].
// Cosine distance is in [0,2]; L2 is unbounded.
func similarity(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance/2
}
