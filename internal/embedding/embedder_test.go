package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/medqa/medqa/internal/engine"
	"github.com/medqa/medqa/internal/ollama"
)

// stubEngine returns canned vectors and counts calls. failures > 0 makes the
// first n calls fail with failErr, or a transient error when unset.
type stubEngine struct {
	mu       sync.Mutex
	calls    int32
	failures int
	failErr  error
	dim      int
}

func (s *stubEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		if s.failErr != nil {
			return nil, s.failErr
		}
		return nil, errors.New("backend unavailable")
	}
	vec := make([]float32, s.dim)
	for i := range vec {
		vec[i] = float32(len(text))
	}
	return vec, nil
}

func (s *stubEngine) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubEngine) IsRunning(ctx context.Context) bool { return true }

func TestEmbed_Succeeds(t *testing.T) {
	eng := &stubEngine{dim: 4}
	e := New(eng, "test-model", 3, 2)

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("len(vec) = %d, want 4", len(vec))
	}
	if e.Dimension() != 4 {
		t.Errorf("Dimension = %d, want 4", e.Dimension())
	}
}

func TestEmbed_RetriesTransientFailure(t *testing.T) {
	eng := &stubEngine{dim: 4, failures: 2}
	e := New(eng, "test-model", 3, 2)

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed should succeed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&eng.calls); got != 3 {
		t.Errorf("engine calls = %d, want 3", got)
	}
}

func TestEmbed_ExhaustedRetriesReturnRetryableError(t *testing.T) {
	eng := &stubEngine{dim: 4, failures: 100}
	e := New(eng, "test-model", 2, 2)

	_, err := e.Embed(context.Background(), "hello")
	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if !embErr.Retryable {
		t.Error("Retryable = false, want true")
	}
	if got := atomic.LoadInt32(&eng.calls); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}
}

func TestEmbed_PermanentFailureNotRetried(t *testing.T) {
	eng := &stubEngine{
		dim:      4,
		failures: 100,
		failErr:  &ollama.StatusError{Endpoint: "embed", Code: http.StatusNotFound},
	}
	e := New(eng, "missing-model", 3, 2)

	_, err := e.Embed(context.Background(), "hello")
	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if embErr.Retryable {
		t.Error("Retryable = true, want false for a permanent failure")
	}
	if got := atomic.LoadInt32(&eng.calls); got != 1 {
		t.Errorf("engine calls = %d, want 1 (permanent failures must not be retried)", got)
	}
}

func TestEmbed_ContextCancellation(t *testing.T) {
	eng := &stubEngine{dim: 4, failures: 100}
	e := New(eng, "test-model", 5, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEmbedBatch_OrderPreserving(t *testing.T) {
	eng := &stubEngine{dim: 2}
	e := New(eng, "test-model", 3, 4)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	// The stub encodes text length into the vector, so order is verifiable.
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d][0] = %f, want %d", i, vecs[i][0], len(text))
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := New(&stubEngine{dim: 2}, "test-model", 3, 4)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

// dimShiftEngine returns a different dimension on each call.
type dimShiftEngine struct {
	calls int32
}

func (d *dimShiftEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	n := atomic.AddInt32(&d.calls, 1)
	return make([]float32, 2+int(n)), nil
}

func (d *dimShiftEngine) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (d *dimShiftEngine) IsRunning(ctx context.Context) bool { return true }

func TestEmbed_RejectsDimensionDrift(t *testing.T) {
	e := New(&dimShiftEngine{}, "test-model", 1, 1)

	if _, err := e.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	_, err := e.Embed(context.Background(), "second")
	var embErr *Error
	if !errors.As(err, &embErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if embErr.Retryable {
		t.Error("dimension drift must not be retryable")
	}
}
