// Package ingest builds the vector index and metadata store from source
// batches, with checkpointed resume.
package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Entry is one committed batch: its base name and the number of rows it
// contributed to the index and store.
type Entry struct {
	Base string
	Rows int
}

// Tracker records which source batches have been committed, as an
// append-only plaintext log with one "<base> <rows>" line per batch. A line
// is appended only after the metadata store has been flushed and the vector
// index saved, so every listed batch is fully durable, and the committed
// row total is the authoritative id watermark for resume.
type Tracker struct {
	path      string
	mu        sync.Mutex
	file      *os.File
	committed map[string]int
	rows      int
}

// NewTracker opens the commit log at path, creating it if needed, and loads
// the committed set.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create commit log dir: %w", err)
	}
	committed := make(map[string]int)
	total := 0
	if existing, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(existing)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}
			if len(fields) != 2 {
				existing.Close()
				return nil, fmt.Errorf("malformed commit log line %q", scanner.Text())
			}
			rows, convErr := strconv.Atoi(fields[1])
			if convErr != nil {
				existing.Close()
				return nil, fmt.Errorf("malformed commit log line %q: %w", scanner.Text(), convErr)
			}
			committed[fields[0]] = rows
			total += rows
		}
		scanErr := scanner.Err()
		existing.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("read commit log: %w", scanErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open commit log: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open commit log for append: %w", err)
	}
	return &Tracker{path: path, file: file, committed: committed, rows: total}, nil
}

// Committed reports whether base has been committed.
func (t *Tracker) Committed(base string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.committed[base]
	return ok
}

// Count returns the number of committed batches.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.committed)
}

// Rows returns the total number of committed rows. This equals the id the
// next uncommitted batch starts at; index state past this watermark was
// never committed and must be discarded on resume.
func (t *Tracker) Rows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows
}

// Commit appends the given entries and syncs the log to disk.
func (t *Tracker) Commit(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Base)
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(e.Rows))
		b.WriteByte('\n')
	}
	if _, err := t.file.WriteString(b.String()); err != nil {
		return fmt.Errorf("append to commit log: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("sync commit log: %w", err)
	}
	for _, e := range entries {
		t.committed[e.Base] = e.Rows
		t.rows += e.Rows
	}
	return nil
}

// Close closes the commit log file.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
