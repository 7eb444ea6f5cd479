package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTracker_CommitAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "archive.ingested")

	tr, err := NewTracker(path)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Committed("batch_001") {
		t.Error("fresh tracker should have nothing committed")
	}
	if err := tr.Commit([]Entry{{Base: "batch_001", Rows: 3}, {Base: "batch_002", Rows: 2}}); err != nil {
		t.Fatal(err)
	}
	if !tr.Committed("batch_001") || !tr.Committed("batch_002") {
		t.Error("committed batches not tracked")
	}
	if tr.Count() != 2 {
		t.Errorf("Count=%d", tr.Count())
	}
	if tr.Rows() != 5 {
		t.Errorf("Rows=%d", tr.Rows())
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	// A new tracker over the same log sees the committed set and row total.
	reloaded, err := NewTracker(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()
	if !reloaded.Committed("batch_002") {
		t.Error("reloaded tracker missing committed batch")
	}
	if reloaded.Committed("batch_003") {
		t.Error("reloaded tracker has phantom batch")
	}
	if reloaded.Rows() != 5 {
		t.Errorf("reloaded Rows=%d", reloaded.Rows())
	}
}

func TestTracker_CommitEmpty(t *testing.T) {
	tr, err := NewTracker(filepath.Join(t.TempDir(), "log"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if err := tr.Commit(nil); err != nil {
		t.Fatal(err)
	}
	if tr.Count() != 0 || tr.Rows() != 0 {
		t.Errorf("Count=%d Rows=%d", tr.Count(), tr.Rows())
	}
}

func TestTracker_MalformedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	if err := os.WriteFile(path, []byte("batch_001\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTracker(path); err == nil {
		t.Error("expected error for log line without a row count")
	}
}
