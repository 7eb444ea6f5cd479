package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/archivelab/shinbun/internal/models"
)

// Locator resolves the full text of a chunk. Lite deployments resolve from
// the inline column; full deployments re-read the metadata batch on demand
// so the store stays small at corpus scale.
type Locator interface {
	Resolve(ctx context.Context, chunk *models.Chunk) (string, error)
}

// InlineLocator resolves text stored in the metadata row itself.
type InlineLocator struct{}

// Resolve returns the inline text.
func (InlineLocator) Resolve(_ context.Context, chunk *models.Chunk) (string, error) {
	return chunk.Text, nil
}

// FileLocator resolves text by re-reading the chunk's metadata batch and
// seeking to its row offset.
type FileLocator struct {
	chunkDir string
}

// NewFileLocator creates a locator over the metadata batch directory.
func NewFileLocator(chunkDir string) *FileLocator {
	return &FileLocator{chunkDir: chunkDir}
}

// Resolve streams the batch to the chunk's row and returns its text column.
func (l *FileLocator) Resolve(ctx context.Context, chunk *models.Chunk) (string, error) {
	f, err := os.Open(filepath.Join(l.chunkDir, chunk.SourceFile+".csv"))
	if err != nil {
		return "", fmt.Errorf("open metadata batch: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("read metadata header: %w", err)
	}
	col := columnIndex(header)

	for i := 0; ; i++ {
		record, err := r.Read()
		if err == io.EOF {
			return "", fmt.Errorf("row %d past end of %s", chunk.RowOffset, chunk.SourceFile)
		}
		if err != nil {
			return "", fmt.Errorf("read metadata row %d: %w", i, err)
		}
		if i == chunk.RowOffset {
			return field(record, col, csvTextColumn), nil
		}
	}
}
