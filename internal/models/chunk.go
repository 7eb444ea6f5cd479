// Package models defines core data structures for chunks, queries, and answers.
package models

// Chunk is one metadata row in the store, keyed by the dense global id that
// also addresses the chunk's vector in the index.
type Chunk struct {
	GlobalID     int64  `json:"global_id" db:"id"`
	ArticleID    string `json:"article_id" db:"article_id"`
	ArticleTitle string `json:"article_title" db:"article_title"`
	Date         string `json:"date" db:"date"`
	Paper        string `json:"paper" db:"paper"`
	SourceFile   string `json:"source_file" db:"source_file"`
	RowOffset    int    `json:"row_offset" db:"row_offset"`
	// Text is stored inline only in lite deployments; otherwise it is
	// resolved lazily from the chunk source at query time.
	Text string `json:"text,omitempty" db:"chunk_text"`
}

// SourceBatch is one chunk-source file pair loaded into memory: an embedding
// matrix and the positionally aligned metadata rows (GlobalID unset).
type SourceBatch struct {
	Base    string
	Vectors [][]float32
	Rows    []*Chunk
}
