// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/archivelab/shinbun/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu sync.Mutex
	tx *sql.Tx // open ingestion transaction, nil outside ingestion
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY,
		article_id TEXT,
		article_title TEXT,
		date TEXT,
		paper TEXT,
		source_file TEXT,
		row_offset INTEGER,
		chunk_text TEXT
	);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertBatch writes chunks into the current ingestion transaction, opening
// one if needed. INSERT OR REPLACE keeps replay after an interrupted build
// idempotent: re-ingested files rewrite the same id range.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin ingestion transaction: %w", err)
		}
		s.tx = tx
	}

	stmt, err := s.tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks
		 (id, article_id, article_title, date, paper, source_file, row_offset, chunk_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.GlobalID, c.ArticleID, c.ArticleTitle, c.Date, c.Paper,
			c.SourceFile, c.RowOffset, c.Text,
		); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", c.GlobalID, err)
		}
	}
	return nil
}

// Flush commits the open ingestion transaction, if any.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit ingestion transaction: %w", err)
	}
	return nil
}

// GetChunk returns the metadata row for a global id.
func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*models.Chunk, error) {
	var c models.Chunk
	var text sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, article_id, article_title, date, paper, source_file, row_offset, chunk_text
		 FROM chunks WHERE id = ?`, id,
	).Scan(&c.GlobalID, &c.ArticleID, &c.ArticleTitle, &c.Date, &c.Paper,
		&c.SourceFile, &c.RowOffset, &text)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.Text = text.String
	return &c, nil
}

// CountChunks returns the total number of metadata rows.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close rolls back any uncommitted ingestion transaction and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}
