package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFixtureBatch(t *testing.T, embDir, chunkDir, base string, vectors [][]float32, csvContent string) {
	t.Helper()
	if err := WriteNPY(filepath.Join(embDir, base+".npy"), vectors); err != nil {
		t.Fatal(err)
	}
	if csvContent != "" {
		if err := os.WriteFile(filepath.Join(chunkDir, base+".csv"), []byte(csvContent), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadNPY_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.npy")
	want := [][]float32{{1, 2, 3}, {4, 5, 6}}
	if err := WriteNPY(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadNPY(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || len(got[0]) != 3 {
		t.Fatalf("shape = (%d, %d)", len(got), len(got[0]))
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("got[%d][%d] = %f, want %f", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestReadNPY_NotNPY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.npy")
	if err := os.WriteFile(path, []byte("definitely not numpy data"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadNPY(path); err == nil {
		t.Error("expected error for non-npy file")
	}
}

func TestDir_LoadBatch(t *testing.T) {
	embDir := t.TempDir()
	chunkDir := t.TempDir()
	writeFixtureBatch(t, embDir, chunkDir, "batch_001",
		[][]float32{{1, 0}, {0, 1}},
		"id,article_title,date,paper,chunk_text\n"+
			"a1,Mining News,1901-02-03,Deseret News,silver mines opened\n"+
			"a2,Rail Lines,1905-06-07,Salt Lake Herald,new rail line west\n")

	d := NewDir(embDir, chunkDir)
	bases, err := d.ListBases()
	if err != nil {
		t.Fatal(err)
	}
	if len(bases) != 1 || bases[0] != "batch_001" {
		t.Fatalf("bases = %v", bases)
	}

	batch, err := d.LoadBatch("batch_001", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Vectors) != 2 || len(batch.Rows) != 2 {
		t.Fatalf("batch sizes: %d vectors, %d rows", len(batch.Vectors), len(batch.Rows))
	}
	row := batch.Rows[1]
	if row.ArticleID != "a2" || row.Paper != "Salt Lake Herald" || row.RowOffset != 1 {
		t.Errorf("row = %+v", row)
	}
	if row.Text != "" {
		t.Error("text should not be inline by default")
	}

	batch, err = d.LoadBatch("batch_001", true)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Rows[0].Text != "silver mines opened" {
		t.Errorf("inline text = %q", batch.Rows[0].Text)
	}
}

func TestDir_LoadBatch_MissingMetadata(t *testing.T) {
	embDir := t.TempDir()
	chunkDir := t.TempDir()
	writeFixtureBatch(t, embDir, chunkDir, "orphan", [][]float32{{1, 0}}, "")

	d := NewDir(embDir, chunkDir)
	_, err := d.LoadBatch("orphan", false)
	if !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("expected ErrMissingMetadata, got %v", err)
	}
}

func TestDir_LoadBatch_RowCountMismatch(t *testing.T) {
	embDir := t.TempDir()
	chunkDir := t.TempDir()
	writeFixtureBatch(t, embDir, chunkDir, "short",
		[][]float32{{1, 0}, {0, 1}},
		"id,article_title,date,paper,chunk_text\na1,T,1900,P,x\n")

	d := NewDir(embDir, chunkDir)
	_, err := d.LoadBatch("short", false)
	if !errors.Is(err, ErrRowCountMismatch) {
		t.Errorf("expected ErrRowCountMismatch, got %v", err)
	}
}

func TestFileLocator_Resolve(t *testing.T) {
	embDir := t.TempDir()
	chunkDir := t.TempDir()
	writeFixtureBatch(t, embDir, chunkDir, "b",
		[][]float32{{1, 0}, {0, 1}},
		"id,article_title,date,paper,chunk_text\n"+
			"a1,T1,1900,P,first text\n"+
			"a2,T2,1901,P,second text\n")

	d := NewDir(embDir, chunkDir)
	batch, err := d.LoadBatch("b", false)
	if err != nil {
		t.Fatal(err)
	}

	loc := NewFileLocator(chunkDir)
	text, err := loc.Resolve(context.Background(), batch.Rows[1])
	if err != nil {
		t.Fatal(err)
	}
	if text != "second text" {
		t.Errorf("text = %q", text)
	}

	// Lookup failure is an error, not a panic; the engine maps it to "".
	missing := *batch.Rows[1]
	missing.SourceFile = "gone"
	if _, err := loc.Resolve(context.Background(), &missing); err == nil {
		t.Error("expected error for missing batch")
	}
}
