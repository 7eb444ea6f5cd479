package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/embedding"
	"github.com/archivelab/shinbun/internal/models"
	"github.com/archivelab/shinbun/internal/source"
	"github.com/archivelab/shinbun/internal/storage"
	"github.com/archivelab/shinbun/internal/vector"
)

type fakeSynth struct {
	out       string
	err       error
	available bool
	calls     int
}

func (f *fakeSynth) Available() bool { return f.available }

func (f *fakeSynth) Summarize(ctx context.Context, query string, passages []*models.Passage) (string, error) {
	f.calls++
	return f.out, f.err
}

func testEngineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Corpus.LinkBaseURL = "https://newspapers.lib.utah.edu/details?id="
	cfg.Retrieval.DefaultTopK = 5
	cfg.Retrieval.MaxTopK = 50
	cfg.Retrieval.SnippetLength = 300
	return cfg
}

// seedEngine indexes the given texts with deterministic embeddings and full
// metadata, returning an engine over them.
func seedEngine(t *testing.T, texts []string, opts ...EngineOption) (*Engine, storage.Store) {
	t.Helper()
	cfg := testEngineConfig()
	embedder := embedding.NewMockEmbedder(8)
	idx, err := vector.NewFlatIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for i, text := range texts {
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		vector.Normalize(emb)
		if err := idx.Add(ctx, [][]float32{emb}); err != nil {
			t.Fatal(err)
		}
		chunk := &models.Chunk{
			GlobalID:     int64(i),
			ArticleID:    fmt.Sprintf("art-%d", i),
			ArticleTitle: fmt.Sprintf("Article %d", i),
			Date:         fmt.Sprintf("190%d-06-15T00:00:00", i),
			Paper:        fmt.Sprintf("Paper %d", i),
			SourceFile:   "batch_001",
			RowOffset:    i,
			Text:         text,
		}
		if err := store.UpsertBatch(ctx, []*models.Chunk{chunk}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	return NewEngine(cfg, embedder, idx, store, source.InlineLocator{}, opts...), store
}

func TestEngine_Ask_EmptyQuery(t *testing.T) {
	engine, _ := seedEngine(t, []string{"some text"})
	resp, err := engine.Ask(context.Background(), &models.AskRequest{Query: "   "})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != emptyQueryAnswer {
		t.Errorf("Answer=%q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("Sources=%d", len(resp.Sources))
	}
}

func TestEngine_Ask_MatchesExactText(t *testing.T) {
	texts := []string{
		"the silver mine at Bingham produced record ore",
		"the railroad depot opened to passengers",
	}
	engine, _ := seedEngine(t, texts)

	resp, err := engine.Ask(context.Background(), &models.AskRequest{Query: texts[1]})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("Sources=%d", len(resp.Sources))
	}
	top := resp.Sources[0]
	if top.ArticleID != "art-1" {
		t.Errorf("top ArticleID=%s", top.ArticleID)
	}
	// Identical text means identical embedding, so full relevance.
	if top.Relevance < 99.9 {
		t.Errorf("top Relevance=%f", top.Relevance)
	}
	if top.Snippet != texts[1] {
		t.Errorf("Snippet=%q", top.Snippet)
	}
	if top.Date != "1901-06-15" {
		t.Errorf("Date=%q", top.Date)
	}
	if top.Link != "https://newspapers.lib.utah.edu/details?id=art-1" {
		t.Errorf("Link=%q", top.Link)
	}
	if !strings.HasPrefix(resp.Answer, "Found 2 relevant articles") {
		t.Errorf("Answer=%q", resp.Answer)
	}
	if resp.Synthesized {
		t.Error("Synthesized should be false without a backend")
	}
}

func TestEngine_Ask_DropsMissingMetadata(t *testing.T) {
	// Build an index with two vectors but only one metadata row, so one hit
	// has nothing to join against.
	cfg := testEngineConfig()
	embedder := embedding.NewMockEmbedder(8)
	idx, err := vector.NewFlatIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, text := range []string{"kept text", "orphaned text"} {
		emb, err := embedder.Embed(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		vector.Normalize(emb)
		if err := idx.Add(ctx, [][]float32{emb}); err != nil {
			t.Fatal(err)
		}
	}
	row := &models.Chunk{GlobalID: 0, ArticleID: "art-0", ArticleTitle: "Kept", Text: "kept text"}
	if err := store.UpsertBatch(ctx, []*models.Chunk{row}); err != nil {
		t.Fatal(err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(cfg, embedder, idx, store, source.InlineLocator{})

	resp, err := engine.Ask(ctx, &models.AskRequest{Query: "orphaned text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("Sources=%d", len(resp.Sources))
	}
	if resp.Sources[0].ArticleID != "art-0" {
		t.Errorf("ArticleID=%s", resp.Sources[0].ArticleID)
	}
}

func TestEngine_Ask_NoResults(t *testing.T) {
	engine, _ := seedEngine(t, nil)
	resp, err := engine.Ask(context.Background(), &models.AskRequest{Query: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != noResultsAnswer {
		t.Errorf("Answer=%q", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("Sources=%d", len(resp.Sources))
	}
}

func TestEngine_Ask_Synthesize(t *testing.T) {
	synth := &fakeSynth{out: "A concise summary.", available: true}
	engine, _ := seedEngine(t, []string{"some chunk"}, WithSynthesizer(synth))

	resp, err := engine.Ask(context.Background(), &models.AskRequest{Query: "some chunk", Synthesize: true})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Synthesized || resp.Answer != "A concise summary." {
		t.Errorf("Answer=%q Synthesized=%v", resp.Answer, resp.Synthesized)
	}
}

func TestEngine_Ask_SynthesizerFailureKeepsExtractive(t *testing.T) {
	synth := &fakeSynth{err: fmt.Errorf("model offline"), available: true}
	engine, _ := seedEngine(t, []string{"some chunk"}, WithSynthesizer(synth))

	resp, err := engine.Ask(context.Background(), &models.AskRequest{Query: "some chunk", Synthesize: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Synthesized {
		t.Error("Synthesized should be false after backend failure")
	}
	if !strings.HasPrefix(resp.Answer, "Found 1 relevant article") {
		t.Errorf("Answer=%q", resp.Answer)
	}
}

func TestEngine_Ask_SynthesizerNotCalledWhenUnavailable(t *testing.T) {
	synth := &fakeSynth{available: false}
	engine, _ := seedEngine(t, []string{"some chunk"}, WithSynthesizer(synth))

	if _, err := engine.Ask(context.Background(), &models.AskRequest{Query: "some chunk", Synthesize: true}); err != nil {
		t.Fatal(err)
	}
	if synth.calls != 0 {
		t.Errorf("Summarize called %d times", synth.calls)
	}
}

func TestRelevancePercent(t *testing.T) {
	if got := relevancePercent(0.73); got < 72.9 || got > 73.1 {
		t.Errorf("got %f", got)
	}
	if got := relevancePercent(-0.5); got != 0 {
		t.Errorf("negative score: %f", got)
	}
	if got := relevancePercent(1.2); got != 100 {
		t.Errorf("overshoot score: %f", got)
	}
}

func TestExtractiveAnswer(t *testing.T) {
	passages := []*models.Passage{
		{Paper: "Deseret News", Date: "1899-04-12"},
		{Paper: "Salt Lake Herald", Date: "1905-03-22"},
		{Paper: "Broad Ax", Date: "1901-01-01"},
		{Paper: "Manti Messenger", Date: "1903-12-31"},
		{Paper: "Deseret News", Date: "1900-07-04"},
	}
	got := extractiveAnswer(passages)
	if !strings.Contains(got, "Found 5 relevant articles") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "+1 more") {
		t.Errorf("expected paper overflow, got %q", got)
	}
	if !strings.Contains(got, "1899-04-12 to 1905-03-22") {
		t.Errorf("expected date range, got %q", got)
	}

	single := extractiveAnswer(passages[:1])
	if !strings.Contains(single, "Found 1 relevant article ") {
		t.Errorf("got %q", single)
	}
	if !strings.Contains(single, "(1899-04-12)") {
		t.Errorf("single date: %q", single)
	}

	// Passages with no paper or date still get a well-formed sentence.
	bare := extractiveAnswer([]*models.Passage{{Title: "x"}, {Title: "y"}})
	if bare != "Found 2 relevant articles." {
		t.Errorf("bare answer: %q", bare)
	}
}
