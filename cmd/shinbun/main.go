// Package main is the Shinbun CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/archivelab/shinbun/internal/answer"
	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/embedding"
	"github.com/archivelab/shinbun/internal/ingest"
	"github.com/archivelab/shinbun/internal/keyword"
	"github.com/archivelab/shinbun/internal/models"
	"github.com/archivelab/shinbun/internal/retrieval"
	"github.com/archivelab/shinbun/internal/server"
	"github.com/archivelab/shinbun/internal/source"
	"github.com/archivelab/shinbun/internal/storage"
	"github.com/archivelab/shinbun/internal/vector"
	"github.com/archivelab/shinbun/internal/watcher"
	"github.com/archivelab/shinbun/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shinbun/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "shinbun server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "build":
		runBuild()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shinbun version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if cfg.Watch.Enabled {
		src := source.NewDir(cfg.Corpus.EmbeddingsDir, cfg.Corpus.ChunksDir)
		tracker, err := ingest.NewTracker(cfg.Storage.CommitLogPath)
		if err != nil {
			logger.Fatal("Failed to open commit log", zap.Error(err))
		}
		defer tracker.Close()
		builderOpts := []ingest.BuilderOption{
			ingest.WithLogger(logger),
			ingest.WithIndex(components.Index),
		}
		if components.Titles != nil {
			builderOpts = append(builderOpts, ingest.WithTitleIndex(components.Titles))
		}
		builder := ingest.NewBuilder(cfg, src, components.Store, tracker, builderOpts...)
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(
			cfg.Corpus.EmbeddingsDir,
			cfg.Corpus.ChunksDir,
			func(base string) {
				if err := builder.IngestFile(context.Background(), base); err != nil {
					logger.Warn("watch ingest failed", zap.String("base", base), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Index,
		components.Store,
		components.Titles,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	if cfg.Storage.IndexPath != "" && components.Index != nil {
		if err := components.Index.Save(cfg.Storage.IndexPath); err != nil {
			logger.Warn("index save failed", zap.String("path", cfg.Storage.IndexPath), zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	rebuild := fs.Bool("rebuild", false, "discard the existing index, metadata, and commit log and build from scratch")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath))

	if *rebuild {
		if err := removeBuildArtifacts(cfg); err != nil {
			fmt.Printf("Rebuild cleanup failed: %v\n", err)
			os.Exit(1)
		}
		logger.Info("existing build artifacts removed")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	tracker, err := ingest.NewTracker(cfg.Storage.CommitLogPath)
	if err != nil {
		fmt.Printf("Failed to open commit log: %v\n", err)
		os.Exit(1)
	}
	defer tracker.Close()

	src := source.NewDir(cfg.Corpus.EmbeddingsDir, cfg.Corpus.ChunksDir)
	opts := []ingest.BuilderOption{ingest.WithLogger(logger)}

	// Resume: a saved index plus a non-empty commit log means a previous run
	// was interrupted; carry on from the last checkpoint.
	if !*rebuild && tracker.Count() > 0 {
		if idx, loadErr := vector.Load(cfg.Storage.IndexPath); loadErr == nil {
			opts = append(opts, ingest.WithIndex(idx))
			logger.Info("resuming interrupted build",
				zap.Int("committed_files", tracker.Count()),
				zap.Int("vectors", idx.Size()))
		} else {
			fmt.Printf("Commit log has %d entries but index load failed: %v\n", tracker.Count(), loadErr)
			fmt.Println("Run with --rebuild to start over.")
			os.Exit(1)
		}
	}

	var titles keyword.Index
	if cfg.Keyword.Enabled {
		titles, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			fmt.Printf("Failed to open keyword index: %v\n", err)
			os.Exit(1)
		}
		defer titles.Close()
		opts = append(opts, ingest.WithTitleIndex(titles))
	}

	builder := ingest.NewBuilder(cfg, src, store, tracker, opts...)
	report, err := builder.Build(context.Background())
	if err != nil {
		fmt.Printf("Build failed: %v\n", err)
		os.Exit(1)
	}
	defer builder.Index().Close()

	fmt.Printf("Build complete (run %s)\n", report.RunID)
	fmt.Printf("  mode:       %s\n", report.Mode)
	fmt.Printf("  processed:  %d file(s)\n", report.Processed)
	fmt.Printf("  skipped:    %d file(s)\n", report.Skipped)
	fmt.Printf("  errored:    %d file(s)\n", report.Errored)
	fmt.Printf("  rows:       %d\n", report.Rows)
	fmt.Printf("  elapsed:    %s\n", report.Elapsed.Round(time.Millisecond))
	if report.Errored > 0 {
		os.Exit(1)
	}
}

// removeBuildArtifacts deletes the index, metadata database (with WAL
// sidecars), commit log, and keyword index directory ahead of a --rebuild.
func removeBuildArtifacts(cfg *config.Config) error {
	paths := []string{
		cfg.Storage.IndexPath,
		cfg.Storage.DatabasePath,
		cfg.Storage.DatabasePath + "-wal",
		cfg.Storage.DatabasePath + "-shm",
		cfg.Storage.CommitLogPath,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if cfg.Storage.KeywordIndexPath != "" {
		if err := os.RemoveAll(cfg.Storage.KeywordIndexPath); err != nil {
			return err
		}
	}
	return nil
}

// printAskUsage prints ask subcommand usage.
func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shinbun ask [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  shinbun ask railway accident
  shinbun ask "railway accident"          # same as above
  shinbun ask --top-k 20 gold rush
  shinbun ask --synthesize "who won the 1900 election"
  shinbun ask --server "" flood           # direct storage, no server needed
`)
}

// buildAskQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildAskQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// askArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "shinbun ask \"query\" -top-k 20"
// would otherwise leave -top-k unparsed.
func askArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runAsk() {
	askArgs := askArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	topK := fs.Int("top-k", 0, "number of passages to retrieve (0 = server default)")
	synthesize := fs.Bool("synthesize", false, "ask the configured language model backend to summarize the passages")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(askArgs)

	if fs.NArg() < 1 {
		printAskUsage(fs)
		os.Exit(1)
	}
	queryStr := buildAskQuery(fs.Args())
	if queryStr == "" {
		printAskUsage(fs)
		os.Exit(1)
	}

	req := &models.AskRequest{
		Query:      queryStr,
		TopK:       *topK,
		Synthesize: *synthesize,
	}

	var response *models.AskResponse
	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids an SQLite/Bleve
		// lock conflict with the server process).
		res, err := askViaHTTP(*serverURL, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		response, err = components.Engine.Ask(context.Background(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		writeAskText(os.Stdout, response)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// writeAskText prints an answer and its sources in human-readable form.
func writeAskText(w io.Writer, resp *models.AskResponse) {
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i, p := range resp.Sources {
		fmt.Fprintf(w, "%d. %s (%s, %s) [%.1f%%]\n", i+1, p.Title, p.Paper, p.Date, p.Relevance)
		if p.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", p.Snippet)
		}
		if p.Link != "" {
			fmt.Fprintf(w, "   %s\n", p.Link)
		}
	}
	fmt.Fprintf(w, "\n%d source(s) in %dms\n", len(resp.Sources), resp.QueryTime)
}

func askViaHTTP(serverURL string, req *models.AskRequest) (*models.AskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Vectors        int                    `json:"vectors"`
	MetadataRows   int64                  `json:"metadata_rows"`
	Mode           string                 `json:"mode"`
	KeywordDocs    *uint64                `json:"keyword_docs,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		rows, err := components.Store.CountChunks(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count rows failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Vectors:      components.Index.Size(),
			MetadataRows: rows,
			Mode:         string(components.Index.Mode()),
		}
		if components.Titles != nil {
			if count, countErr := components.Titles.DocCount(); countErr == nil {
				status.KeywordDocs = &count
			}
		}
		diskBytes, err := storage.DiskUsageBytes(
			cfg.Storage.DatabasePath,
			cfg.Storage.IndexPath,
			cfg.Storage.KeywordIndexPath,
		)
		if err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("vectors:          %d   # vectors in the index\n", status.Vectors)
		fmt.Printf("metadata_rows:    %d   # chunk metadata rows\n", status.MetadataRows)
		fmt.Printf("mode:             %s\n", status.Mode)
		if status.KeywordDocs != nil {
			fmt.Printf("keyword_docs:     %d\n", *status.KeywordDocs)
		}
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes: %d\n", *status.DiskUsageBytes)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized query-path services.
type Components struct {
	Store  storage.Store
	Embed  embedding.Embedder
	Index  vector.Index
	Titles keyword.Index
	Engine *retrieval.Engine
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embed != nil {
		_ = c.Embed.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Titles != nil {
		_ = c.Titles.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	index, err := vector.Load(cfg.Storage.IndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load index from %s (run \"shinbun build\" first): %w",
			cfg.Storage.IndexPath, err)
	}
	logger.Info("index loaded",
		zap.String("path", cfg.Storage.IndexPath),
		zap.String("mode", string(index.Mode())),
		zap.Int("vectors", index.Size()))

	var embedder embedding.Embedder
	if cfg.Embedding.Endpoint != "" {
		embedder, err = embedding.NewHTTPEmbedder(embedding.HTTPEmbedderOptions{
			Endpoint:   cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Index.Dimensions,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
			CacheSize:  cfg.Embedding.CacheSize,
		})
		if err != nil {
			_ = store.Close()
			_ = index.Close()
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	} else {
		logger.Warn("no embedding endpoint configured, using deterministic mock embedder")
		embedder = embedding.NewMockEmbedder(cfg.Index.Dimensions)
	}

	var locator source.Locator
	if cfg.Corpus.InlineText {
		locator = source.InlineLocator{}
	} else {
		locator = source.NewFileLocator(cfg.Corpus.ChunksDir)
	}

	var titles keyword.Index
	if cfg.Keyword.Enabled {
		titles, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			_ = store.Close()
			_ = index.Close()
			return nil, fmt.Errorf("failed to open keyword index: %w", err)
		}
	}

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer probeCancel()
	synth, err := answer.New(probeCtx, cfg.Synthesizer)
	if err != nil {
		_ = store.Close()
		_ = index.Close()
		if titles != nil {
			_ = titles.Close()
		}
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	logger.Info("synthesizer configured",
		zap.String("backend", cfg.Synthesizer.Backend),
		zap.Bool("available", synth.Available()))

	engine := retrieval.NewEngine(cfg, embedder, index, store, locator,
		retrieval.WithLogger(logger),
		retrieval.WithSynthesizer(synth),
	)

	return &Components{
		Store:  store,
		Embed:  embedder,
		Index:  index,
		Titles: titles,
		Engine: engine,
	}, nil
}

func printUsage() {
	fmt.Println(`shinbun - Hybrid index and retrieval engine for newspaper archives

Usage:
  shinbun server [flags]          Start the HTTP server
  shinbun build [flags]           Build or resume the vector index
  shinbun ask [flags] <query>     Ask a question against the corpus
  shinbun status [flags]          Show index/storage status
  shinbun version                 Show version
  shinbun help                    Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/shinbun/config.yaml)
  --debug            Enable debug logging

Build Flags:
  --config string    Config file path
  --rebuild          Discard existing index, metadata, and commit log and build from scratch

Ask Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to use direct storage when server is not running.
  --top-k int        Number of passages to retrieve (0 = server default)
  --synthesize       Summarize passages with the configured language model backend
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  shinbun build --config ./config.yaml
  shinbun server
  shinbun ask "railway accident in winter"
  shinbun ask --top-k 20 --output json gold rush
  shinbun ask --synthesize "who won the 1900 election"
  shinbun status
  shinbun status --output json`)
}
