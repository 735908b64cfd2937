// Package embedding maps text to fixed-dimension vectors via an inference
// engine, with bounded retries for transient backend failures.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medqa/medqa/internal/engine"
)

const (
	defaultMaxRetries  = 3
	defaultConcurrency = 4
	initialBackoff     = 500 * time.Millisecond
)

// Error wraps an embedding backend failure. Retryable errors may succeed on
// a later attempt; the Embedder has already exhausted its own retry budget
// by the time one is returned.
type Error struct {
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Embedder generates text embeddings through an Engine. All vectors from
// one Embedder share the same dimensionality, discovered on first use.
type Embedder struct {
	engine      engine.Engine
	model       string
	maxRetries  int
	concurrency int

	mu  sync.Mutex
	dim int // 0 until the first successful call
}

// New creates an Embedder using the given Engine and model name.
// Non-positive maxRetries or concurrency fall back to defaults.
func New(e engine.Engine, model string, maxRetries, concurrency int) *Embedder {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Embedder{engine: e, model: model, maxRetries: maxRetries, concurrency: concurrency}
}

// Model returns the embedding model identifier, stored alongside the index
// so loads with a different configuration are rejected.
func (e *Embedder) Model() string { return e.model }

// Dimension returns the vector dimensionality, or 0 before the first
// successful embedding.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Embed returns the embedding vector for a single text, retrying transient
// failures with exponential backoff up to the configured attempt limit.
// Permanent backend rejections are returned immediately without retry.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		vec, err := e.engine.Embed(ctx, e.model, text)
		if err == nil {
			if err := e.checkDimension(vec); err != nil {
				return nil, &Error{Retryable: false, Err: err}
			}
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !engine.Retryable(err) {
			return nil, &Error{Retryable: false, Err: err}
		}

		lastErr = err
		if attempt < e.maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, &Error{Retryable: true, Err: fmt.Errorf("after %d attempts: %w", e.maxRetries, lastErr)}
}

// EmbedBatch returns embedding vectors for multiple texts, preserving input
// order with a 1:1 correspondence. Calls run concurrently, bounded so a
// batch cannot overwhelm the engine. Returns nil for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkDimension records the dimensionality on first use and rejects any
// vector that disagrees with it afterwards.
func (e *Embedder) checkDimension(vec []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dim == 0 {
		e.dim = len(vec)
		return nil
	}
	if len(vec) != e.dim {
		return fmt.Errorf("model %s returned dimension %d, expected %d", e.model, len(vec), e.dim)
	}
	return nil
}
