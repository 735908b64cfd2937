// Package ingest builds the vector index from the document corpus and owns
// its lifecycle across rebuilds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/medqa/medqa/internal/chunker"
	"github.com/medqa/medqa/internal/document"
	"github.com/medqa/medqa/internal/index"
	"github.com/medqa/medqa/internal/storage"
)

// Stage is the pipeline's observable lifecycle state.
type Stage int

const (
	StageUninitialized Stage = iota
	StageScanning
	StageChunking
	StageEmbedding
	StageIndexing
	StageReady
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageScanning:
		return "scanning"
	case StageChunking:
		return "chunking"
	case StageEmbedding:
		return "embedding"
	case StageIndexing:
		return "indexing"
	case StageReady:
		return "ready"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Embedder is the slice of the embedding layer the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Skipped records one document that was dropped during ingestion.
type Skipped struct {
	Path string
	Err  error
}

// Report summarizes one Initialize run.
type Report struct {
	Fingerprint string
	Documents   int
	Chunks      int
	Reused      bool // true when the persisted index matched the corpus
	Skipped     []Skipped
}

const chunkerConcurrency = 4

// Pipeline drives scan → chunk → embed → index and owns the current index.
// Initialize may be called again to rebuild; a rebuild constructs the new
// index off to the side, so concurrent readers keep the previous index
// until the swap.
type Pipeline struct {
	store    *storage.Store
	embedder Embedder
	chunker  *chunker.Chunker
	logger   *slog.Logger

	initMu sync.Mutex // serializes Initialize calls

	stateMu     sync.Mutex
	stage       Stage
	failedStage Stage
	lastReport  *Report

	current atomic.Pointer[index.Index]
}

// New creates a Pipeline. The chunker configuration determines chunk ids,
// so it must stay fixed across rebuilds of the same corpus.
func New(store *storage.Store, emb Embedder, ch *chunker.Chunker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		embedder: emb,
		chunker:  ch,
		logger:   logger,
		stage:    StageUninitialized,
	}
}

// Stage returns the current lifecycle stage.
func (p *Pipeline) Stage() Stage {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.stage
}

// FailedStage returns the stage a failed run was in, or StageUninitialized
// if the pipeline has not failed.
func (p *Pipeline) FailedStage() Stage {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.failedStage
}

// LastReport returns the report of the most recent successful Initialize,
// or nil.
func (p *Pipeline) LastReport() *Report {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.lastReport
}

// Current returns the ready index, or nil when the pipeline has not
// reached Ready.
func (p *Pipeline) Current() *index.Index {
	return p.current.Load()
}

func (p *Pipeline) setStage(s Stage) {
	p.stateMu.Lock()
	p.stage = s
	p.stateMu.Unlock()
}

func (p *Pipeline) fail(at Stage, err error) error {
	p.stateMu.Lock()
	p.stage = StageFailed
	p.failedStage = at
	p.stateMu.Unlock()
	p.logger.Error("ingestion failed", "stage", at.String(), "error", err)
	return err
}

// Initialize scans documentsDir and ensures a ready index exists for its
// current content. When a persisted index matches the corpus fingerprint
// and embedding model, it is loaded and re-embedding is skipped entirely.
// Otherwise the corpus is chunked, embedded, indexed, and persisted.
// Documents that fail to decode or embed are skipped and reported; only a
// corpus with no usable documents fails the run.
func (p *Pipeline) Initialize(ctx context.Context, documentsDir string) (*Report, error) {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	// Scanning.
	p.setStage(StageScanning)
	sources, err := document.Scan(documentsDir)
	if err != nil {
		return nil, p.fail(StageScanning, fmt.Errorf("scanning corpus: %w", err))
	}
	if len(sources) == 0 {
		return nil, p.fail(StageScanning, &Error{Kind: KindEmptyCorpus, Err: fmt.Errorf("no documents in %s", documentsDir)})
	}
	fingerprint, err := document.Fingerprint(sources)
	if err != nil {
		return nil, p.fail(StageScanning, fmt.Errorf("fingerprinting corpus: %w", err))
	}

	// Reuse the persisted index when nothing changed.
	if ix := p.loadReusable(fingerprint); ix != nil {
		report := &Report{
			Fingerprint: fingerprint,
			Documents:   len(sources),
			Chunks:      ix.Len(),
			Reused:      true,
		}
		p.finish(ix, report)
		return report, nil
	}

	// Chunking. Documents are processed in parallel; determinism of chunk
	// ids is guaranteed by the chunker, not by execution order.
	p.setStage(StageChunking)
	chunksBySource := make([][]chunker.Chunk, len(sources))
	skippedBySource := make([]*Skipped, len(sources))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(chunkerConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			doc, err := document.Load(src)
			if err != nil {
				p.logger.Warn("skipping document", "path", src.Path, "error", err)
				skippedBySource[i] = &Skipped{Path: src.Path, Err: &Error{Kind: KindDecodeFailure, Path: src.Path, Err: err}}
				return nil
			}
			chunksBySource[i] = p.chunker.Split(doc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, p.fail(StageChunking, err)
	}

	// Embedding, one document at a time. A document whose chunks cannot be
	// embedded after retries is skipped; the rest continue.
	p.setStage(StageEmbedding)
	var entries []index.Entry
	var skipped []Skipped
	documents := 0

	for i, src := range sources {
		if s := skippedBySource[i]; s != nil {
			skipped = append(skipped, *s)
			continue
		}
		chunks := chunksBySource[i]
		if len(chunks) == 0 {
			skipped = append(skipped, Skipped{Path: src.Path, Err: &Error{Kind: KindDecodeFailure, Path: src.Path, Err: errors.New("no chunks produced")}})
			continue
		}

		texts := make([]string, len(chunks))
		for j, ch := range chunks {
			texts[j] = ch.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.fail(StageEmbedding, ctx.Err())
			}
			p.logger.Warn("skipping document after embedding failure", "path", src.Path, "error", err)
			skipped = append(skipped, Skipped{Path: src.Path, Err: err})
			continue
		}

		for j, ch := range chunks {
			entries = append(entries, index.Entry{
				ChunkID: ch.ID,
				Source:  ch.Source,
				Ordinal: ch.Ordinal,
				Start:   ch.Start,
				Text:    ch.Text,
				Vector:  vectors[j],
			})
		}
		documents++
	}

	if len(entries) == 0 {
		return nil, p.fail(StageEmbedding, &Error{Kind: KindEmptyCorpus, Err: fmt.Errorf("all %d documents failed", len(sources))})
	}

	// Indexing.
	p.setStage(StageIndexing)
	ix := index.New(fingerprint, p.embedder.Model(), len(entries[0].Vector))
	if err := ix.Add(entries); err != nil {
		return nil, p.fail(StageIndexing, fmt.Errorf("adding entries: %w", err))
	}
	if err := ix.Save(p.store.DB()); err != nil {
		return nil, p.fail(StageIndexing, fmt.Errorf("persisting index: %w", err))
	}

	report := &Report{
		Fingerprint: fingerprint,
		Documents:   documents,
		Chunks:      len(entries),
		Skipped:     skipped,
	}
	p.finish(ix, report)
	p.logger.Info("ingestion complete",
		"documents", documents, "chunks", len(entries), "skipped", len(skipped))
	return report, nil
}

// loadReusable returns the persisted index when it matches the current
// fingerprint, nil when a rebuild is needed.
func (p *Pipeline) loadReusable(fingerprint string) *index.Index {
	ix, err := index.Load(p.store.DB(), p.embedder.Model())
	if err != nil {
		var ixErr *index.Error
		if errors.As(err, &ixErr) && ixErr.Kind == index.KindNotFound {
			p.logger.Debug("no persisted index, building")
		} else {
			p.logger.Warn("persisted index unusable, rebuilding", "error", err)
		}
		return nil
	}
	if ix.Stale(fingerprint) {
		p.logger.Info("corpus changed, rebuilding index")
		return nil
	}
	p.logger.Info("reusing persisted index", "chunks", ix.Len())
	return ix
}

func (p *Pipeline) finish(ix *index.Index, report *Report) {
	p.current.Store(ix)
	p.stateMu.Lock()
	p.stage = StageReady
	p.lastReport = report
	p.stateMu.Unlock()
}
