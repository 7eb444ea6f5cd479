package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/archivelab/shinbun/internal/models"
)

// Sentinel errors for per-file conditions the builder handles without
// aborting the whole build.
var (
	ErrMissingMetadata  = errors.New("embedding batch has no metadata counterpart")
	ErrRowCountMismatch = errors.New("vector count does not match metadata row count")
)

// csvTextColumn is the metadata column holding chunk text. It is excluded
// from metadata rows unless inline text is requested.
const csvTextColumn = "chunk_text"

// Dir is a chunk-source directory pair: embedding batches (<base>.npy) in
// one directory and metadata batches (<base>.csv) in another. Vectors and
// metadata rows are positionally aligned.
type Dir struct {
	embDir   string
	chunkDir string
}

// NewDir creates a chunk source over the given directories.
func NewDir(embDir, chunkDir string) *Dir {
	return &Dir{embDir: embDir, chunkDir: chunkDir}
}

// ChunkDir returns the metadata batch directory.
func (d *Dir) ChunkDir() string { return d.chunkDir }

// ListBases returns the sorted base names of all embedding batches.
func (d *Dir) ListBases() ([]string, error) {
	entries, err := os.ReadDir(d.embDir)
	if err != nil {
		return nil, fmt.Errorf("read embeddings dir: %w", err)
	}
	var bases []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".npy") {
			continue
		}
		bases = append(bases, strings.TrimSuffix(e.Name(), ".npy"))
	}
	sort.Strings(bases)
	return bases, nil
}

// LoadBatch reads one embedding/metadata batch pair. inlineText controls
// whether chunk text is carried on the rows (lite mode) or left to lazy
// resolution. Returns ErrMissingMetadata if the CSV partner does not exist
// and ErrRowCountMismatch if the pair is positionally misaligned.
func (d *Dir) LoadBatch(base string, inlineText bool) (*models.SourceBatch, error) {
	csvPath := filepath.Join(d.chunkDir, base+".csv")
	if _, err := os.Stat(csvPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", base, ErrMissingMetadata)
		}
		return nil, fmt.Errorf("stat metadata batch: %w", err)
	}

	vectors, err := ReadNPY(filepath.Join(d.embDir, base+".npy"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}

	rows, err := readMetadataRows(csvPath, base, inlineText)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", base, err)
	}
	if len(rows) == 0 || len(rows) != len(vectors) {
		return nil, fmt.Errorf("%s: %d vectors, %d rows: %w", base, len(vectors), len(rows), ErrRowCountMismatch)
	}

	return &models.SourceBatch{Base: base, Vectors: vectors, Rows: rows}, nil
}

func readMetadataRows(path, base string, inlineText bool) ([]*models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata batch: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	col := columnIndex(header)

	var rows []*models.Chunk
	for i := 0; ; i++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata row %d: %w", i, err)
		}
		chunk := &models.Chunk{
			ArticleID:    field(record, col, "id"),
			ArticleTitle: field(record, col, "article_title"),
			Date:         field(record, col, "date"),
			Paper:        field(record, col, "paper"),
			SourceFile:   base,
			RowOffset:    i,
		}
		if inlineText {
			chunk.Text = field(record, col, csvTextColumn)
		}
		rows = append(rows, chunk)
	}
	return rows, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
