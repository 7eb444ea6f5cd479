// Package keyword provides full-text search over article titles.
package keyword

import "context"

// ArticleDoc is the indexed view of a chunk's article metadata.
type ArticleDoc struct {
	Title string `json:"title"`
	Paper string `json:"paper"`
	Date  string `json:"date"`
}

// Result is a single keyword search hit. ID is the decimal form of the
// chunk's global id.
type Result struct {
	ID    string
	Score float64
	Title string
	Paper string
	Date  string
}

// Index defines keyword indexing and search over article titles.
type Index interface {
	IndexBatch(ctx context.Context, ids []string, docs []*ArticleDoc) error
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	DocCount() (uint64, error)
	Close() error
}
