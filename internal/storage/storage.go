// Package storage defines the persistence interface for chunk metadata.
package storage

import (
	"context"
	"errors"

	"github.com/archivelab/shinbun/internal/models"
)

// ErrNotFound is returned by GetChunk when no row exists for an id.
var ErrNotFound = errors.New("chunk not found")

// Store defines chunk metadata persistence keyed by global id.
//
// Ingestion batches rows inside a single long-lived write transaction:
// UpsertBatch buffers into it and Flush commits it, so a crash loses at most
// the rows since the last flush. Point lookups and counts read outside the
// ingestion transaction and are safe for concurrent query serving.
type Store interface {
	UpsertBatch(ctx context.Context, chunks []*models.Chunk) error
	Flush(ctx context.Context) error
	GetChunk(ctx context.Context, id int64) (*models.Chunk, error)
	CountChunks(ctx context.Context) (int64, error)
	Close() error
}
