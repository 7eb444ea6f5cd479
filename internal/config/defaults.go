package config

import "os"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Corpus.LinkBaseURL == "" {
		cfg.Corpus.LinkBaseURL = "https://newspapers.lib.utah.edu/details?id="
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/shinbun/data/archive.index"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shinbun/data/archive.db"
	}
	if cfg.Storage.CommitLogPath == "" {
		cfg.Storage.CommitLogPath = "/usr/local/var/shinbun/data/archive.ingested"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/shinbun/data/keyword.bleve"
	}
	if cfg.Index.Dimensions == 0 {
		cfg.Index.Dimensions = 384
	}
	if cfg.Index.ExactMaxFiles == 0 {
		cfg.Index.ExactMaxFiles = 200
	}
	if cfg.Index.TrainingBudget == 0 {
		cfg.Index.TrainingBudget = 500_000
	}
	if cfg.Index.TrainingFileLimit == 0 {
		cfg.Index.TrainingFileLimit = 30
	}
	if cfg.Index.MaxClusters == 0 {
		cfg.Index.MaxClusters = 4096
	}
	if cfg.Index.VectorsPerCluster == 0 {
		cfg.Index.VectorsPerCluster = 40
	}
	if cfg.Index.NProbe == 0 {
		cfg.Index.NProbe = 32
	}
	if cfg.Index.CheckpointInterval == 0 {
		cfg.Index.CheckpointInterval = 50
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:8501/embed"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 10
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Retrieval.DefaultTopK == 0 {
		cfg.Retrieval.DefaultTopK = 5
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 50
	}
	if cfg.Retrieval.SnippetLength == 0 {
		cfg.Retrieval.SnippetLength = 300
	}
	if cfg.Synthesizer.Backend == "" {
		cfg.Synthesizer.Backend = "none"
	}
	if cfg.Synthesizer.APIKey == "" {
		cfg.Synthesizer.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if cfg.Synthesizer.TimeoutSeconds == 0 {
		cfg.Synthesizer.TimeoutSeconds = 30
	}
	if cfg.Synthesizer.MaxPassages == 0 {
		cfg.Synthesizer.MaxPassages = 5
	}
}
