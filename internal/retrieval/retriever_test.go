package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/medqa/medqa/internal/index"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vector, s.err
}

type stubSource struct {
	ix *index.Index
}

func (s *stubSource) Current() *index.Index { return s.ix }

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	ix := index.New("fp", "stub-embed", 2)
	err := ix.Add([]index.Entry{
		{ChunkID: "a.txt#0", Source: "a.txt", Text: "alpha", Vector: []float32{1, 0}},
		{ChunkID: "b.txt#0", Source: "b.txt", Text: "beta", Vector: []float32{0, 1}},
		{ChunkID: "c.txt#0", Source: "c.txt", Text: "gamma", Vector: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return ix
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSource{ix: testIndex(t)}, 2, nil)

	results, err := r.Retrieve(context.Background(), "what is alpha?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].ChunkID != "a.txt#0" {
		t.Errorf("top result = %q, want a.txt#0", results[0].ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not in descending score order")
	}
}

func TestRetrieveIndexNotReady(t *testing.T) {
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSource{}, 3, nil)

	_, err := r.Retrieve(context.Background(), "anything")
	if !errors.Is(err, ErrIndexNotReady) {
		t.Fatalf("err = %v, want ErrIndexNotReady", err)
	}
	var rErr *Error
	if !errors.As(err, &rErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := New(&stubEmbedder{vector: []float32{1, 0}}, &stubSource{ix: testIndex(t)}, 3, nil)

	if _, err := r.Retrieve(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	r := New(&stubEmbedder{err: errors.New("backend down")}, &stubSource{ix: testIndex(t)}, 3, nil)

	_, err := r.Retrieve(context.Background(), "query")
	if err == nil {
		t.Fatal("expected error")
	}
	var rErr *Error
	if !errors.As(err, &rErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
}
