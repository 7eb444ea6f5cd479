package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archivelab/shinbun/internal/config"
	"github.com/archivelab/shinbun/internal/keyword"
	"github.com/archivelab/shinbun/internal/models"
	"github.com/archivelab/shinbun/internal/source"
	"github.com/archivelab/shinbun/internal/storage"
	"github.com/archivelab/shinbun/internal/vector"
)

// Builder populates the vector index and metadata store from source batches.
// Batches already listed in the commit log are skipped, so an interrupted
// build resumes where its last checkpoint left off.
type Builder struct {
	cfg     *config.Config
	src     *source.Dir
	store   storage.Store
	tracker *Tracker
	index   vector.Index
	titles  keyword.Index
	logger  *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build progress output.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithIndex supplies an already loaded vector index, used when resuming an
// interrupted build or ingesting into a serving process. When absent, Build
// selects a mode and creates a fresh index.
func WithIndex(idx vector.Index) BuilderOption {
	return func(b *Builder) { b.index = idx }
}

// WithTitleIndex enables best-effort keyword indexing of article titles.
func WithTitleIndex(titles keyword.Index) BuilderOption {
	return func(b *Builder) { b.titles = titles }
}

// NewBuilder creates a builder over the given source, store, and tracker.
func NewBuilder(cfg *config.Config, src *source.Dir, store storage.Store, tracker *Tracker, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:     cfg,
		src:     src,
		store:   store,
		tracker: tracker,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Report summarizes one build run.
type Report struct {
	RunID     string
	Mode      vector.Mode
	Processed int
	Skipped   int
	Errored   int
	Rows      int64
	Elapsed   time.Duration
}

// SelectMode picks the index mode from the source file count: corpora with
// at most exactMaxFiles batches get an exact index, larger ones a trained
// compressed index.
func SelectMode(fileCount, exactMaxFiles int) vector.Mode {
	if fileCount <= exactMaxFiles {
		return vector.ModeExact
	}
	return vector.ModeCompressed
}

// Index returns the vector index the builder populated.
func (b *Builder) Index() vector.Index { return b.index }

// Build runs a full pass over the source directory: mode selection, training
// for compressed mode, then checkpointed population of all uncommitted
// batches.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.New().String()}

	bases, err := b.src.ListBases()
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("no embedding batches found")
	}

	if b.index == nil {
		mode := SelectMode(len(bases), b.cfg.Index.ExactMaxFiles)
		b.logger.Info("build starting",
			zap.String("run_id", report.RunID),
			zap.String("mode", string(mode)),
			zap.Int("source_files", len(bases)))
		if err := b.createIndex(ctx, mode, bases); err != nil {
			return nil, err
		}
	} else if b.index.NeedsTraining() {
		if err := b.trainIndex(ctx, bases); err != nil {
			return nil, err
		}
	}
	report.Mode = b.index.Mode()

	// A crash between an index save and the matching commit-log append
	// leaves the saved index carrying rows the log does not list. The log is
	// the source of truth for ids; drop anything past its watermark so the
	// replayed batches land on the same ids they had before the crash.
	if committed := b.tracker.Rows(); b.index.Size() > committed {
		b.logger.Warn("discarding uncommitted index tail",
			zap.Int("index_size", b.index.Size()),
			zap.Int("committed_rows", committed))
		if err := b.index.Truncate(committed); err != nil {
			return nil, fmt.Errorf("truncate uncommitted tail: %w", err)
		}
	}

	var pending []Entry
	interval := b.cfg.Index.CheckpointInterval
	if interval <= 0 {
		interval = 1
	}
	for _, base := range bases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.tracker.Committed(base) {
			report.Skipped++
			continue
		}
		rows, err := b.ingestBatch(ctx, base)
		if err != nil {
			if errors.Is(err, source.ErrMissingMetadata) {
				b.logger.Warn("skipping batch without metadata", zap.String("base", base))
				report.Skipped++
				continue
			}
			b.logger.Error("batch failed", zap.String("base", base), zap.Error(err))
			report.Errored++
			continue
		}
		report.Processed++
		report.Rows += int64(rows)
		pending = append(pending, Entry{Base: base, Rows: rows})
		if len(pending) >= interval {
			if err := b.checkpoint(ctx, pending); err != nil {
				return nil, err
			}
			b.logger.Info("checkpoint",
				zap.Int("committed_files", b.tracker.Count()),
				zap.Int("index_size", b.index.Size()))
			pending = nil
		}
	}
	if err := b.checkpoint(ctx, pending); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	b.logger.Info("build finished",
		zap.String("run_id", report.RunID),
		zap.String("mode", string(report.Mode)),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored),
		zap.Int64("rows", report.Rows),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

// IngestFile ingests a single batch and checkpoints immediately. Used by the
// watcher for incremental updates.
func (b *Builder) IngestFile(ctx context.Context, base string) error {
	if b.index == nil {
		return fmt.Errorf("no index attached")
	}
	if b.index.NeedsTraining() {
		return fmt.Errorf("index is not trained")
	}
	if b.tracker.Committed(base) {
		return nil
	}
	rows, err := b.ingestBatch(ctx, base)
	if err != nil {
		return err
	}
	if err := b.checkpoint(ctx, []Entry{{Base: base, Rows: rows}}); err != nil {
		return err
	}
	b.logger.Info("batch ingested", zap.String("base", base), zap.Int("rows", rows))
	return nil
}

// createIndex builds a fresh index for mode, training it first when needed.
func (b *Builder) createIndex(ctx context.Context, mode vector.Mode, bases []string) error {
	if mode == vector.ModeExact {
		idx, err := vector.New(mode, vector.Params{Dimensions: b.cfg.Index.Dimensions})
		if err != nil {
			return err
		}
		b.index = idx
		return nil
	}

	sample, err := b.trainingSample(ctx, bases)
	if err != nil {
		return err
	}
	perCluster := b.cfg.Index.VectorsPerCluster
	if perCluster <= 0 {
		perCluster = 40
	}
	nlist := len(sample) / perCluster
	if nlist > b.cfg.Index.MaxClusters {
		nlist = b.cfg.Index.MaxClusters
	}
	if nlist < 1 {
		nlist = 1
	}
	idx, err := vector.New(mode, vector.Params{
		Dimensions: b.cfg.Index.Dimensions,
		NList:      nlist,
		NProbe:     b.cfg.Index.NProbe,
	})
	if err != nil {
		return err
	}
	b.logger.Info("training index",
		zap.Int("sample_size", len(sample)),
		zap.Int("clusters", nlist))
	if err := idx.Train(ctx, sample); err != nil {
		return fmt.Errorf("train index: %w", err)
	}
	b.index = idx
	return nil
}

// trainIndex trains a resumed compressed index that was created but never
// trained, for example after a crash before the first checkpoint.
func (b *Builder) trainIndex(ctx context.Context, bases []string) error {
	sample, err := b.trainingSample(ctx, bases)
	if err != nil {
		return err
	}
	if err := b.index.Train(ctx, sample); err != nil {
		return fmt.Errorf("train index: %w", err)
	}
	return nil
}

// trainingSample draws up to the training budget of normalized vectors from
// a prefix of the source files. Oversized files are thinned at a fixed
// stride, so the sample is deterministic for a given corpus.
func (b *Builder) trainingSample(ctx context.Context, bases []string) ([][]float32, error) {
	budget := b.cfg.Index.TrainingBudget
	if budget <= 0 {
		budget = 500_000
	}
	fileLimit := b.cfg.Index.TrainingFileLimit
	if fileLimit <= 0 || fileLimit > len(bases) {
		fileLimit = len(bases)
	}

	var sample [][]float32
	for _, base := range bases[:fileLimit] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(sample) >= budget {
			break
		}
		batch, err := b.src.LoadBatch(base, false)
		if err != nil {
			if errors.Is(err, source.ErrMissingMetadata) || errors.Is(err, source.ErrRowCountMismatch) {
				b.logger.Warn("excluding batch from training sample", zap.String("base", base), zap.Error(err))
				continue
			}
			return nil, err
		}
		remaining := budget - len(sample)
		sample = append(sample, subsample(batch.Vectors, remaining)...)
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("no vectors available for training")
	}
	if len(sample) < budget {
		b.logger.Warn("training sample under budget",
			zap.Int("sample_size", len(sample)),
			zap.Int("budget", budget))
	}
	vector.NormalizeAll(sample)
	return sample, nil
}

// subsample returns at most limit vectors taken at an even stride.
func subsample(vectors [][]float32, limit int) [][]float32 {
	if limit <= 0 {
		return nil
	}
	if len(vectors) <= limit {
		return vectors
	}
	out := make([][]float32, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, vectors[i*len(vectors)/limit])
	}
	return out
}

// ingestBatch loads one batch, assigns the next run of global ids, and
// writes vectors and metadata rows under those ids.
func (b *Builder) ingestBatch(ctx context.Context, base string) (int, error) {
	batch, err := b.src.LoadBatch(base, b.cfg.Corpus.InlineText)
	if err != nil {
		return 0, err
	}
	vector.NormalizeAll(batch.Vectors)

	next := int64(b.index.Size())
	for i, row := range batch.Rows {
		row.GlobalID = next + int64(i)
	}
	if err := b.index.Add(ctx, batch.Vectors); err != nil {
		return 0, fmt.Errorf("add vectors: %w", err)
	}
	if err := b.store.UpsertBatch(ctx, batch.Rows); err != nil {
		return 0, fmt.Errorf("store metadata rows: %w", err)
	}
	if b.titles != nil {
		if err := b.indexTitles(ctx, batch.Rows); err != nil {
			b.logger.Warn("keyword indexing failed", zap.String("base", base), zap.Error(err))
		}
	}
	return len(batch.Rows), nil
}

func (b *Builder) indexTitles(ctx context.Context, rows []*models.Chunk) error {
	ids := make([]string, len(rows))
	docs := make([]*keyword.ArticleDoc, len(rows))
	for i, row := range rows {
		ids[i] = strconv.FormatInt(row.GlobalID, 10)
		docs[i] = &keyword.ArticleDoc{Title: row.ArticleTitle, Paper: row.Paper, Date: row.Date}
	}
	return b.titles.IndexBatch(ctx, ids, docs)
}

// checkpoint makes all ingested batches durable: store flush, then index
// save, then commit-log append. Order matters; a crash between steps replays
// the uncommitted suffix under the same ids, after Build drops any index
// tail past the log's row watermark.
func (b *Builder) checkpoint(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := b.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush metadata store: %w", err)
	}
	if err := b.index.Save(b.cfg.Storage.IndexPath); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	if err := b.tracker.Commit(entries); err != nil {
		return err
	}
	return nil
}
