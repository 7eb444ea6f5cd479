package vector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_Exact(t *testing.T) {
	idx, err := New(ModeExact, Params{Dimensions: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if idx.Mode() != ModeExact {
		t.Errorf("Mode=%s", idx.Mode())
	}
	if idx.NeedsTraining() {
		t.Error("exact index should not need training")
	}
}

func TestNew_Compressed(t *testing.T) {
	idx, err := New(ModeCompressed, Params{Dimensions: 8, NList: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if idx.Mode() != ModeCompressed {
		t.Errorf("Mode=%s", idx.Mode())
	}
	if !idx.NeedsTraining() {
		t.Error("compressed index should need training")
	}
}

func TestNew_UnknownMode(t *testing.T) {
	if _, err := New("hnsw", Params{Dimensions: 8}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.index")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ForeignFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.index")
	if err := os.WriteFile(path, []byte("not an index at all"), 0644); err != nil {
		t.Fatal(err)
	}
	// Without FAISS compiled in, unrecognized headers are rejected.
	if IsFaissAvailable() {
		t.Skip("FAISS build")
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for foreign format")
	}
}
