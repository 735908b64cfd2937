// Package index stores chunk embeddings and serves nearest-neighbor
// queries over them.
//
// Similarity metric: cosine similarity, computed in float64 for stability.
// The same metric is used at build and query time; results are ordered by
// descending score with ties broken by ascending chunk id so a given query
// always returns the same ranking.
package index

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Entry pairs one chunk's metadata with its embedding vector.
type Entry struct {
	ChunkID string
	Source  string
	Ordinal int
	Start   int
	Text    string
	Vector  []float32
}

// ScoredEntry is a search hit with its similarity score.
type ScoredEntry struct {
	Entry
	Score float64
}

// Index is an in-memory vector index over a fixed corpus snapshot. It is
// safe for concurrent use: searches take a read lock, Add takes the write
// lock. A rebuild constructs a fresh Index off to the side and swaps it in,
// so readers never observe a partially-built index.
type Index struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	fingerprint string
	model       string
	dim         int
}

// New creates an empty index bound to a corpus fingerprint and an embedding
// model identifier. dim fixes the dimensionality every entry must match.
func New(fingerprint, model string, dim int) *Index {
	return &Index{
		entries:     make(map[string]Entry),
		fingerprint: fingerprint,
		model:       model,
		dim:         dim,
	}
}

// Add inserts entries, replacing any existing entry with the same chunk id.
// Every vector must match the index dimensionality.
func (ix *Index) Add(entries []Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) != ix.dim {
			return fmt.Errorf("entry %s has dimension %d, index expects %d", e.ChunkID, len(e.Vector), ix.dim)
		}
		ix.entries[e.ChunkID] = e
	}
	return nil
}

// Search returns the k entries most similar to the query vector, ordered by
// descending cosine similarity; equal scores are ordered by ascending chunk
// id. Fewer than k results are returned only when fewer entries exist.
func (ix *Index) Search(query []float32, k int) ([]ScoredEntry, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scored := make([]ScoredEntry, 0, len(ix.entries))
	for _, e := range ix.entries {
		scored = append(scored, ScoredEntry{Entry: e, Score: cosine(query, e.Vector)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Fingerprint returns the corpus fingerprint the index was built from.
func (ix *Index) Fingerprint() string { return ix.fingerprint }

// Model returns the embedding model identifier the index was built with.
func (ix *Index) Model() string { return ix.model }

// Dimension returns the vector dimensionality.
func (ix *Index) Dimension() int { return ix.dim }

// Stale reports whether the index no longer matches the current corpus.
func (ix *Index) Stale(currentFingerprint string) bool {
	return ix.fingerprint != currentFingerprint
}

// cosine computes cosine similarity between two equal-length vectors.
// Zero vectors score zero against everything.
func cosine(a, b []float32) float64 {
	var dot, aNormSq, bNormSq float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		aNormSq += av * av
		bNormSq += bv * bv
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0
	}
	return dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq))
}
