package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type batchRecorder struct {
	mu    sync.Mutex
	bases []string
}

func (r *batchRecorder) record(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bases = append(r.bases, base)
}

func (r *batchRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bases...)
}

func (r *batchRecorder) waitFor(t *testing.T, base string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, b := range r.seen() {
			if b == base {
				return true
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func newTestWatcher(t *testing.T) (*Watcher, *batchRecorder, string, string) {
	t.Helper()
	dir := t.TempDir()
	embDir := filepath.Join(dir, "embeddings")
	chunkDir := filepath.Join(dir, "chunks")
	for _, d := range []string{embDir, chunkDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	rec := &batchRecorder{}
	w := NewWatcher(embDir, chunkDir, rec.record, WithDebounce(50*time.Millisecond))
	return w, rec, embDir, chunkDir
}

func TestWatcher_CompletePair(t *testing.T) {
	w, rec, embDir, chunkDir := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(embDir, "batch_009.npy"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(chunkDir, "batch_009.csv"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !rec.waitFor(t, "batch_009", 3*time.Second) {
		t.Fatalf("batch not reported, saw %v", rec.seen())
	}
}

func TestWatcher_IncompletePairNotReported(t *testing.T) {
	w, rec, embDir, _ := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// NPY without a CSV partner stays pending.
	if err := os.WriteFile(filepath.Join(embDir, "batch_010.npy"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if len(rec.seen()) != 0 {
		t.Errorf("incomplete pair reported: %v", rec.seen())
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	w, rec, embDir, _ := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(embDir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if len(rec.seen()) != 0 {
		t.Errorf("unexpected report: %v", rec.seen())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, _, _, _ := newTestWatcher(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestBatchBase(t *testing.T) {
	if base, ok := batchBase("/data/embeddings/batch_001.npy"); !ok || base != "batch_001" {
		t.Errorf("npy: %q %v", base, ok)
	}
	if base, ok := batchBase("/data/chunks/batch_001.csv"); !ok || base != "batch_001" {
		t.Errorf("csv: %q %v", base, ok)
	}
	if _, ok := batchBase("/data/embeddings/readme.md"); ok {
		t.Error("md should not match")
	}
}
