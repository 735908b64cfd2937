// Package retrieval answers similarity queries against the current index.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medqa/medqa/internal/index"
)

// ErrIndexNotReady is returned when retrieval is attempted before a
// successful ingestion run.
var ErrIndexNotReady = fmt.Errorf("index is not ready")

// Error wraps a retrieval failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("retrieval: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexSource provides the current index, nil until one is ready.
type IndexSource interface {
	Current() *index.Index
}

// Retriever embeds a query and returns the most similar chunks.
type Retriever struct {
	embedder QueryEmbedder
	source   IndexSource
	topK     int
	logger   *slog.Logger
}

func New(embedder QueryEmbedder, source IndexSource, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, source: source, topK: topK, logger: logger}
}

// Retrieve returns up to topK chunks ranked by similarity to the query in
// descending score order. An empty query and a not-yet-ready index are
// both errors; an empty result set is not.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]index.ScoredEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Err: fmt.Errorf("empty query")}
	}
	ix := r.source.Current()
	if ix == nil {
		return nil, &Error{Err: ErrIndexNotReady}
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("embedding query: %w", err)}
	}
	results, err := ix.Search(vector, r.topK)
	if err != nil {
		return nil, &Error{Err: err}
	}
	r.logger.Debug("retrieved chunks", "query_len", len(query), "results", len(results))
	return results, nil
}
