// Package memory provides an in-process ANN index. It backs sqlite
// deployments and tests, where no native vector index is available.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/thebtf/codeaudit/internal/vector"
	"github.com/thebtf/codeaudit/pkg/similarity"
)

// bucketKey scopes entries to one (project, model) pair.
type bucketKey struct {
	projectID string
	model     string
}

// Index is a brute-force cosine index. Entries are normalized on insert so
// search reduces to a dot product. Exact rather than approximate, which
// satisfies the ANN contract trivially for the corpus sizes sqlite
// deployments see.
type Index struct {
	mu      sync.RWMutex
	buckets map[bucketKey][]entry
	byID    map[int64]bucketKey
}

type entry struct {
	id  int64
	vec []float32 // unit length
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		buckets: make(map[bucketKey][]entry),
		byID:    make(map[int64]bucketKey),
	}
}

// Insert adds or replaces an entry. Idempotent per id.
func (idx *Index) Insert(ctx context.Context, e vector.Entry) error {
	key := bucketKey{projectID: e.ProjectID, model: e.Model}
	norm := similarity.Normalize(e.Vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, ok := idx.byID[e.ID]; ok {
		idx.removeLocked(prev, e.ID)
	}

	idx.buckets[key] = append(idx.buckets[key], entry{id: e.ID, vec: norm})
	idx.byID[e.ID] = key
	return nil
}

// Remove deletes entries by id. Unknown ids are ignored.
func (idx *Index) Remove(ctx context.Context, ids []int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range ids {
		if key, ok := idx.byID[id]; ok {
			idx.removeLocked(key, id)
			delete(idx.byID, id)
		}
	}
	return nil
}

// removeLocked drops one id from its bucket. Caller holds the write lock.
func (idx *Index) removeLocked(key bucketKey, id int64) {
	bucket := idx.buckets[key]
	for i := range bucket {
		if bucket[i].id == id {
			idx.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(idx.buckets[key]) == 0 {
		delete(idx.buckets, key)
	}
}

// Search returns the top-k entries for the scoped corpus ranked by ascending
// cosine distance, excluding any beyond the threshold. Ties are broken by id
// ascending so results are deterministic for a fixed index state.
func (idx *Index) Search(ctx context.Context, projectID, model string, query []float32, k int, threshold float64) ([]vector.Match, error) {
	if k <= 0 {
		k = 10
	}
	queryNorm := similarity.Normalize(query)

	idx.mu.RLock()
	bucket := idx.buckets[bucketKey{projectID: projectID, model: model}]
	matches := make([]vector.Match, 0, len(bucket))
	for _, e := range bucket {
		dist := similarity.CosineDistance(queryNorm, e.vec)
		if dist <= threshold {
			matches = append(matches, vector.Match{ID: e.id, Distance: dist})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of stored entries.
func (idx *Index) Count(ctx context.Context) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int64(len(idx.byID)), nil
}

// Compile-time check: Index must satisfy vector.Index.
var _ vector.Index = (*Index)(nil)
