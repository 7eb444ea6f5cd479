package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T, dir string) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(dir, "titles.bleve"))
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestBleveIndex_IndexAndSearch(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	defer idx.Close()
	ctx := context.Background()

	ids := []string{"0", "1", "2"}
	docs := []*ArticleDoc{
		{Title: "Silver Mining Boom in Park City", Paper: "Deseret News", Date: "1899-04-12"},
		{Title: "Railroad Reaches Ogden", Paper: "Salt Lake Herald", Date: "1901-07-30"},
		{Title: "City Council Debates Water Rights", Paper: "Deseret News", Date: "1903-01-15"},
	}
	if err := idx.IndexBatch(ctx, ids, docs); err != nil {
		t.Fatal(err)
	}

	count, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("DocCount=%d", count)
	}

	results, err := idx.Search(ctx, "mining", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "0" {
		t.Errorf("ID=%s", results[0].ID)
	}
	if results[0].Title != "Silver Mining Boom in Park City" {
		t.Errorf("Title=%q", results[0].Title)
	}
	if results[0].Paper != "Deseret News" {
		t.Errorf("Paper=%q", results[0].Paper)
	}
}

func TestBleveIndex_CaseInsensitive(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	defer idx.Close()
	ctx := context.Background()

	docs := []*ArticleDoc{{Title: "Statehood Celebration", Paper: "Broad Ax", Date: "1896-01-06"}}
	if err := idx.IndexBatch(ctx, []string{"0"}, docs); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "STATEHOOD", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestBleveIndex_ReopenExisting(t *testing.T) {
	dir := t.TempDir()
	idx := newTestIndex(t, dir)
	ctx := context.Background()
	docs := []*ArticleDoc{{Title: "Harvest Festival", Paper: "Manti Messenger", Date: "1910-09-02"}}
	if err := idx.IndexBatch(ctx, []string{"0"}, docs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestIndex(t, dir)
	defer reopened.Close()
	count, err := reopened.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("DocCount=%d after reopen", count)
	}
}
