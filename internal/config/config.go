// Package config provides configuration loading and structs for the Shinbun server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	Storage     StorageConfig     `yaml:"storage"`
	Index       IndexConfig       `yaml:"index"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Keyword     KeywordConfig     `yaml:"keyword"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CorpusConfig describes the chunk source: embedding batches and their
// paired metadata batches.
type CorpusConfig struct {
	EmbeddingsDir string `yaml:"embeddings_dir"`
	ChunksDir     string `yaml:"chunks_dir"`
	// InlineText stores chunk text in the metadata store ("lite" mode) so
	// the deployment has no query-time dependency on ChunksDir.
	InlineText  bool   `yaml:"inline_text"`
	LinkBaseURL string `yaml:"link_base_url"`
}

// StorageConfig holds paths for the index, metadata database, commit log,
// and keyword index. Index and database are paired by a shared base name.
type StorageConfig struct {
	IndexPath        string `yaml:"index_path"`
	DatabasePath     string `yaml:"database_path"`
	CommitLogPath    string `yaml:"commit_log_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// IndexConfig holds vector index build and search tunables.
type IndexConfig struct {
	Dimensions int `yaml:"dimensions"`
	// ExactMaxFiles is the mode-selection threshold: corpora with at most
	// this many source files get an exact flat index, larger ones a
	// trained compressed index.
	ExactMaxFiles      int `yaml:"exact_max_files"`
	TrainingBudget     int `yaml:"training_budget"`
	TrainingFileLimit  int `yaml:"training_file_limit"`
	MaxClusters        int `yaml:"max_clusters"`
	VectorsPerCluster  int `yaml:"vectors_per_cluster"`
	NProbe             int `yaml:"nprobe"`
	CheckpointInterval int `yaml:"checkpoint_interval"`
}

// EmbeddingConfig holds settings for the external embedding service.
type EmbeddingConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	DefaultTopK   int `yaml:"default_top_k"`
	MaxTopK       int `yaml:"max_top_k"`
	SnippetLength int `yaml:"snippet_length"`
}

// SynthesizerConfig selects and configures the optional answer backend.
// Backend is resolved once at startup: "none", "groq", or "ollama".
type SynthesizerConfig struct {
	Backend        string `yaml:"backend"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxPassages    int    `yaml:"max_passages"`
}

// KeywordConfig holds the optional title keyword index settings.
type KeywordConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WatchConfig holds incremental ingestion settings.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Corpus.EmbeddingsDir = expandPath(cfg.Corpus.EmbeddingsDir, configDir)
	cfg.Corpus.ChunksDir = expandPath(cfg.Corpus.ChunksDir, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CommitLogPath = expandPath(cfg.Storage.CommitLogPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
