package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// reused so incremental builds do not re-index committed articles. If the
// mapping changes in code, remove the index directory to force a full rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	titleMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): OCR-era titles
	// contain proper nouns and place names that stemming would mangle.
	titleMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", titleMapping)
	keywordMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("paper", keywordMapping)
	docMapping.AddFieldMappingsAt("date", keywordMapping)
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("open keyword index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexBatch indexes documents in a single Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, ids []string, docs []*ArticleDoc) error {
	if len(ids) != len(docs) {
		return fmt.Errorf("ids and docs length mismatch")
	}
	batch := b.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, docs[i]); err != nil {
			return fmt.Errorf("batch index %s: %w", id, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("apply keyword batch: %w", err)
	}
	return nil
}

// Search runs a match query over titles and returns up to limit results.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("title")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"title", "paper", "date"}
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		r := &Result{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["title"].(string); ok {
			r.Title = v
		}
		if v, ok := hit.Fields["paper"].(string); ok {
			r.Paper = v
		}
		if v, ok := hit.Fields["date"].(string); ok {
			r.Date = v
		}
		out[i] = r
	}
	return out, nil
}

// DocCount returns the total number of indexed articles.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
