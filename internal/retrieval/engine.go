// Package retrieval answers questions against the vector index and metadata
// store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/archivelab/shinbun/internal/answer"
	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/embedding"
	"github.com/archivelab/shinbun/internal/models"
	"github.com/archivelab/shinbun/internal/source"
	"github.com/archivelab/shinbun/internal/storage"
	"github.com/archivelab/shinbun/internal/vector"
	"github.com/archivelab/shinbun/pkg/utils"
)

// EmbedderError marks a failure to reach the embedding service at query
// time. The server maps it to 503 so clients can tell an unavailable
// dependency from a bad request.
type EmbedderError struct {
	Err error
}

func (e *EmbedderError) Error() string { return "embed query: " + e.Err.Error() }

func (e *EmbedderError) Unwrap() error { return e.Err }

const (
	emptyQueryAnswer = "Please enter a search query."
	noResultsAnswer  = "No relevant articles found for your query."
	untitledFallback = "Untitled Article"
)

// Engine joins the vector index, metadata store, and chunk locator into the
// ask flow.
type Engine struct {
	cfg      *config.Config
	embedder embedding.Embedder
	index    vector.Index
	store    storage.Store
	locator  source.Locator
	synth    answer.Synthesizer
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for dropped-row and synthesis diagnostics.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithSynthesizer attaches an optional answer synthesizer.
func WithSynthesizer(s answer.Synthesizer) EngineOption {
	return func(e *Engine) { e.synth = s }
}

// NewEngine creates a retrieval engine.
func NewEngine(
	cfg *config.Config,
	embedder embedding.Embedder,
	index vector.Index,
	store storage.Store,
	locator source.Locator,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		store:    store,
		locator:  locator,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ask embeds the query, searches the index, joins metadata, and builds the
// answer. An embedder failure is returned as an error; everything after a
// successful search degrades per passage instead of failing the call.
func (e *Engine) Ask(ctx context.Context, req *models.AskRequest) (*models.AskResponse, error) {
	start := time.Now()
	if err := req.Validate(e.cfg.Retrieval.DefaultTopK, e.cfg.Retrieval.MaxTopK); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return &models.AskResponse{
			Answer:    emptyQueryAnswer,
			Sources:   []*models.Passage{},
			QueryTime: time.Since(start).Milliseconds(),
		}, nil
	}

	emb, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, &EmbedderError{Err: err}
	}
	vector.Normalize(emb)

	hits, err := e.index.Search(ctx, emb, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	passages := e.buildPassages(ctx, hits)
	resp := &models.AskResponse{
		Answer:  extractiveAnswer(passages),
		Sources: passages,
		Query:   req.Query,
	}
	if req.Synthesize && len(passages) > 0 {
		e.synthesize(ctx, req.Query, resp)
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// buildPassages joins search hits against the metadata store and chunk
// locator. Rows missing from the store are logged and dropped; a failed text
// lookup degrades to an empty snippet.
func (e *Engine) buildPassages(ctx context.Context, hits []vector.Hit) []*models.Passage {
	passages := make([]*models.Passage, 0, len(hits))
	for _, hit := range hits {
		chunk, err := e.store.GetChunk(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				e.logger.Warn("index hit has no metadata row", zap.Int64("id", hit.ID))
			} else {
				e.logger.Error("metadata lookup failed", zap.Int64("id", hit.ID), zap.Error(err))
			}
			continue
		}
		text, err := e.locator.Resolve(ctx, chunk)
		if err != nil {
			e.logger.Warn("text lookup failed",
				zap.Int64("id", hit.ID),
				zap.String("source_file", chunk.SourceFile),
				zap.Error(err))
			text = ""
		}
		passages = append(passages, e.passage(chunk, text, hit.Score))
	}
	return passages
}

func (e *Engine) passage(chunk *models.Chunk, text string, score float32) *models.Passage {
	title := chunk.ArticleTitle
	if strings.TrimSpace(title) == "" {
		title = untitledFallback
	}
	date := chunk.Date
	if i := strings.Index(date, "T"); i >= 0 {
		date = date[:i]
	}
	var link string
	if chunk.ArticleID != "" && e.cfg.Corpus.LinkBaseURL != "" {
		link = e.cfg.Corpus.LinkBaseURL + chunk.ArticleID
	}
	return &models.Passage{
		Title:     title,
		Snippet:   utils.Truncate(text, e.cfg.Retrieval.SnippetLength),
		Date:      date,
		Paper:     chunk.Paper,
		ArticleID: chunk.ArticleID,
		Link:      link,
		Relevance: relevancePercent(score),
	}
}

// relevancePercent maps an inner-product score of unit vectors to a 0-100
// percentage.
func relevancePercent(score float32) float64 {
	return utils.Clamp(float64(score), 0, 1) * 100
}

// extractiveAnswer builds the deterministic summary line: result count, up
// to three distinct papers, and the date range.
func extractiveAnswer(passages []*models.Passage) string {
	if len(passages) == 0 {
		return noResultsAnswer
	}

	noun := "articles"
	if len(passages) == 1 {
		noun = "article"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant %s", len(passages), noun)

	if papers := paperList(passages); papers != "" {
		b.WriteString(" from ")
		b.WriteString(papers)
	}
	if earliest, latest := dateRange(passages); earliest != "" {
		if earliest == latest {
			fmt.Fprintf(&b, " (%s)", earliest)
		} else {
			fmt.Fprintf(&b, " (%s to %s)", earliest, latest)
		}
	}
	b.WriteString(".")
	return b.String()
}

func paperList(passages []*models.Passage) string {
	seen := make(map[string]struct{})
	var papers []string
	for _, p := range passages {
		if p.Paper == "" {
			continue
		}
		if _, ok := seen[p.Paper]; ok {
			continue
		}
		seen[p.Paper] = struct{}{}
		papers = append(papers, p.Paper)
	}
	if len(papers) == 0 {
		return ""
	}
	sort.Strings(papers)
	if len(papers) > 3 {
		return fmt.Sprintf("%s +%d more", strings.Join(papers[:3], ", "), len(papers)-3)
	}
	return strings.Join(papers, ", ")
}

func dateRange(passages []*models.Passage) (earliest, latest string) {
	for _, p := range passages {
		if p.Date == "" {
			continue
		}
		if earliest == "" || p.Date < earliest {
			earliest = p.Date
		}
		if p.Date > latest {
			latest = p.Date
		}
	}
	return earliest, latest
}

// synthesize replaces the extractive answer with the backend's summary when
// it succeeds. Any failure keeps the extractive answer.
func (e *Engine) synthesize(ctx context.Context, query string, resp *models.AskResponse) {
	if e.synth == nil || !e.synth.Available() {
		return
	}
	out, err := e.synth.Summarize(ctx, query, resp.Sources)
	if err != nil {
		e.logger.Warn("synthesis failed, keeping extractive answer", zap.Error(err))
		return
	}
	resp.Answer = out
	resp.Synthesized = true
}
