// Package vector defines the pluggable ANN index contract and the
// asynchronous build pipeline that feeds it. Index maintenance is deferred
// relative to the write that created an embedding: callers must not assume a
// just-inserted vector is searchable.
package vector

import "context"

// Entry is one stored vector.
type Entry struct {
	ID        int64
	ProjectID string
	Model     string
	Vector    []float32
}

// Match is one search result.
type Match struct {
	ID       int64   `json:"id"`
	Distance float64 `json:"distance"`
}

// Index is an approximate-nearest-neighbor index over embeddings. Search is
// scoped to one (project, model) pair; results are ranked by ascending
// cosine distance with ties broken by id ascending, and capped at k entries
// within the threshold. An empty corpus yields an empty, non-error result.
//
// Implementations must tolerate concurrent searches while background
// inserts are in flight.
type Index interface {
	Insert(ctx context.Context, e Entry) error
	Remove(ctx context.Context, ids []int64) error
	Search(ctx context.Context, projectID, model string, query []float32, k int, threshold float64) ([]Match, error)
	Count(ctx context.Context) (int64, error)
}

// DistanceToSimilarity converts a cosine distance in [0,2] to a similarity
// score in [0,1] for display.
func DistanceToSimilarity(distance float64) float64 {
	sim := 1 - distance/2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
