package models

import (
	"fmt"
	"strings"
)

// AskRequest is a retrieval request.
type AskRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k,omitempty"`
	Synthesize bool   `json:"synthesize,omitempty"`
}

// Validate normalizes the request. An empty query is not an error here: the
// engine answers it with a prompt instead of touching the index.
func (r *AskRequest) Validate(defaultTopK, maxTopK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if maxTopK > 0 && r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	if r.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}

// Passage is one ranked retrieval hit with joined metadata.
type Passage struct {
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Date      string  `json:"date"`
	Paper     string  `json:"paper"`
	ArticleID string  `json:"article_id"`
	Link      string  `json:"link,omitempty"`
	Relevance float64 `json:"relevance"` // percent, 0-100
}

// AskResponse is the answer plus its supporting passages.
type AskResponse struct {
	Answer string `json:"answer"`
	// Synthesized reports whether Answer came from the language model
	// backend; false means the deterministic extractive summary.
	Synthesized bool       `json:"synthesized"`
	Sources     []*Passage `json:"sources"`
	QueryTime   int64      `json:"query_time_ms"`
	Query       string     `json:"query"`
}
