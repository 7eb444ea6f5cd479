// Package vector provides vector indexes for inner-product similarity search.
//
// Vectors are keyed by their insertion position: the i-th vector ever added
// gets id i. Callers persist metadata under the same ids, so indexes never
// reorder or compact.
package vector

import (
	"context"
	"sort"
)

// Mode selects the index structure.
type Mode string

const (
	// ModeExact uses brute-force inner product over all vectors.
	ModeExact Mode = "exact"
	// ModeCompressed uses an inverted-file index with coarse quantization.
	// Requires training before vectors can be added.
	ModeCompressed Mode = "compressed"
)

// Hit is a single search result. ID is the positional id of the vector.
type Hit struct {
	ID    int64
	Score float32
}

// sortHits orders hits by descending score, equal scores by ascending id,
// so equally similar vectors always come back in the same order.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// Index defines vector storage and similarity search over normalized vectors.
type Index interface {
	Mode() Mode
	// NeedsTraining reports whether Train must be called before Add.
	NeedsTraining() bool
	// Train fits the index structure on a sample of vectors.
	Train(ctx context.Context, samples [][]float32) error
	// Add appends vectors. The first vector gets id Size(), the next Size()+1, and so on.
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns up to k hits ordered by descending inner product,
	// ties broken by ascending id.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Size returns the number of vectors added so far.
	Size() int
	// Truncate discards the vectors with ids size and above, restoring the
	// index to its state after the first size additions.
	Truncate(size int) error
	Save(path string) error
	Close() error
}
