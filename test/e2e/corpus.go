// Package e2e exercises the full pipeline: batch files on disk, index build,
// retrieval engine, and the HTTP API.
package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/embedding"
	"github.com/archivelab/shinbun/internal/source"
)

const corpusDimensions = 8

// article is one row of a metadata batch with its chunk text.
type article struct {
	ID    string
	Title string
	Date  string
	Paper string
	Text  string
}

// newCorpusConfig returns a config rooted in dir with batch directories created.
func newCorpusConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Corpus.EmbeddingsDir = filepath.Join(dir, "embeddings")
	cfg.Corpus.ChunksDir = filepath.Join(dir, "chunks")
	cfg.Corpus.InlineText = true
	cfg.Storage.IndexPath = filepath.Join(dir, "corpus.index")
	cfg.Storage.DatabasePath = filepath.Join(dir, "corpus.db")
	cfg.Storage.CommitLogPath = filepath.Join(dir, "commits.log")
	cfg.Storage.KeywordIndexPath = filepath.Join(dir, "titles.bleve")
	cfg.Index.Dimensions = corpusDimensions
	cfg.Index.ExactMaxFiles = 200
	cfg.Index.TrainingBudget = 1000
	cfg.Index.TrainingFileLimit = 10
	cfg.Index.MaxClusters = 4
	cfg.Index.VectorsPerCluster = 2
	cfg.Index.NProbe = 4
	cfg.Index.CheckpointInterval = 2
	cfg.Retrieval.DefaultTopK = 5
	cfg.Retrieval.MaxTopK = 50
	cfg.Retrieval.SnippetLength = 300
	for _, d := range []string{cfg.Corpus.EmbeddingsDir, cfg.Corpus.ChunksDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

// writeArticleBatch writes one embedding batch and its paired metadata batch.
// Vectors come from the same deterministic embedder queries use, so asking
// with an article's exact text retrieves that article first.
func writeArticleBatch(t *testing.T, cfg *config.Config, base string, articles []article) {
	t.Helper()
	emb := embedding.NewMockEmbedder(cfg.Index.Dimensions)
	defer emb.Close()

	vecs := make([][]float32, len(articles))
	for i, a := range articles {
		v, err := emb.Embed(context.Background(), a.Text)
		if err != nil {
			t.Fatal(err)
		}
		vecs[i] = v
	}
	if err := source.WriteNPY(filepath.Join(cfg.Corpus.EmbeddingsDir, base+".npy"), vecs); err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	sb.WriteString("id,article_title,date,paper,chunk_text\n")
	for _, a := range articles {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s\n", a.ID, a.Title, a.Date, a.Paper, a.Text))
	}
	if err := os.WriteFile(filepath.Join(cfg.Corpus.ChunksDir, base+".csv"), []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}
}
