package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/medqa/medqa/internal/chunker"
	"github.com/medqa/medqa/internal/storage"
)

// stubEmbedder produces deterministic vectors derived from the text and
// counts how many chunks it was asked to embed.
type stubEmbedder struct {
	calls   atomic.Int64
	failFor string // path substring whose texts fail to embed
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if s.failFor != "" && t == s.failFor {
			return nil, errors.New("embedding backend unavailable")
		}
		sum := sha256.Sum256([]byte(t))
		v := make([]float32, 4)
		for j := range v {
			v[j] = float32(sum[j]) / 255
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Model() string { return "stub-embed" }

func newTestPipeline(t *testing.T) (*Pipeline, *stubEmbedder, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	emb := &stubEmbedder{}
	ch := chunker.New(200, 40)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, emb, ch, logger), emb, store
}

func writeDoc(t *testing.T, dir, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestInitializeBuildsIndex(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "diabetes.txt", "Diabetes is a chronic condition. It affects how the body processes glucose. Management includes diet and medication.")
	writeDoc(t, dir, "asthma.txt", "Asthma narrows the airways. Inhalers relieve the symptoms quickly.")

	p, _, _ := newTestPipeline(t)
	report, err := p.Initialize(context.Background(), dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if p.Stage() != StageReady {
		t.Fatalf("stage = %v, want ready", p.Stage())
	}
	if report.Documents != 2 {
		t.Errorf("documents = %d, want 2", report.Documents)
	}
	if report.Chunks == 0 {
		t.Error("expected chunks")
	}
	if report.Reused {
		t.Error("first build should not be reused")
	}
	if p.Current() == nil {
		t.Fatal("Current() = nil after ready")
	}
	if p.Current().Len() != report.Chunks {
		t.Errorf("index len = %d, want %d", p.Current().Len(), report.Chunks)
	}
}

func TestInitializeReusesUnchangedCorpus(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "Hypertension is high blood pressure. It often has no symptoms.")

	p, emb, _ := newTestPipeline(t)
	if _, err := p.Initialize(context.Background(), dir); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	embedded := emb.calls.Load()
	if embedded == 0 {
		t.Fatal("expected embed calls on first build")
	}

	report, err := p.Initialize(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if !report.Reused {
		t.Error("unchanged corpus should reuse the persisted index")
	}
	if got := emb.calls.Load(); got != embedded {
		t.Errorf("re-initialize embedded %d more chunks, want 0", got-embedded)
	}
}

func TestInitializeRebuildsAfterCorpusChange(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "Vaccines train the immune system to recognize pathogens.")

	p, _, _ := newTestPipeline(t)
	if _, err := p.Initialize(context.Background(), dir); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	before := p.Current().Len()

	writeDoc(t, dir, "b.txt", "Antibiotics treat bacterial infections. They do not work on viruses.")
	report, err := p.Initialize(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if report.Reused {
		t.Error("changed corpus must trigger a rebuild")
	}
	if report.Documents != 2 {
		t.Errorf("documents = %d, want 2", report.Documents)
	}
	if p.Current().Len() <= before {
		t.Errorf("index len = %d, want > %d after adding a document", p.Current().Len(), before)
	}
}

func TestInitializeEmptyCorpus(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.Initialize(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for empty corpus")
	}
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Kind != KindEmptyCorpus {
		t.Fatalf("err = %v, want empty corpus error", err)
	}
	if p.Stage() != StageFailed {
		t.Errorf("stage = %v, want failed", p.Stage())
	}
	if p.FailedStage() != StageScanning {
		t.Errorf("failed stage = %v, want scanning", p.FailedStage())
	}
	if p.Current() != nil {
		t.Error("Current() should stay nil after failure")
	}
}

func TestInitializeMissingDirectory(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	if _, err := p.Initialize(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
	if p.Stage() != StageFailed {
		t.Errorf("stage = %v, want failed", p.Stage())
	}
}

func TestInitializeSkipsUndecodableDocument(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.txt", "Influenza spreads through respiratory droplets.")
	writeDoc(t, dir, "bad.pdf", "this is not a pdf")

	p, _, _ := newTestPipeline(t)
	report, err := p.Initialize(context.Background(), dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if p.Stage() != StageReady {
		t.Fatalf("stage = %v, want ready", p.Stage())
	}
	if report.Documents != 1 {
		t.Errorf("documents = %d, want 1", report.Documents)
	}
	if len(report.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(report.Skipped))
	}
	if report.Skipped[0].Path != "bad.pdf" {
		t.Errorf("skipped path = %q, want bad.pdf", report.Skipped[0].Path)
	}
	var ingErr *Error
	if !errors.As(report.Skipped[0].Err, &ingErr) || ingErr.Kind != KindDecodeFailure {
		t.Errorf("skipped err = %v, want decode failure", report.Skipped[0].Err)
	}
}

func TestInitializeSkipsFailedEmbedding(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.txt", "Anemia is a shortage of red blood cells.")
	writeDoc(t, dir, "unlucky.txt", "POISON")

	p, emb, _ := newTestPipeline(t)
	emb.failFor = "POISON"

	report, err := p.Initialize(context.Background(), dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if report.Documents != 1 {
		t.Errorf("documents = %d, want 1", report.Documents)
	}
	if len(report.Skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(report.Skipped))
	}
	if report.Skipped[0].Path != "unlucky.txt" {
		t.Errorf("skipped path = %q, want unlucky.txt", report.Skipped[0].Path)
	}
}

func TestInitializeFailsWhenAllDocumentsFail(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "only.txt", "POISON")

	p, emb, _ := newTestPipeline(t)
	emb.failFor = "POISON"

	_, err := p.Initialize(context.Background(), dir)
	var ingErr *Error
	if !errors.As(err, &ingErr) || ingErr.Kind != KindEmptyCorpus {
		t.Fatalf("err = %v, want empty corpus error", err)
	}
	if p.FailedStage() != StageEmbedding {
		t.Errorf("failed stage = %v, want embedding", p.FailedStage())
	}
}

func TestRebuildKeepsPreviousIndexOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "a.txt", "Sleep supports memory consolidation and immune function.")

	p, emb, _ := newTestPipeline(t)
	if _, err := p.Initialize(context.Background(), dir); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	previous := p.Current()

	writeDoc(t, dir, "a.txt", "POISON")
	emb.failFor = "POISON"
	if _, err := p.Initialize(context.Background(), dir); err == nil {
		t.Fatal("expected rebuild failure")
	}
	if p.Current() != previous {
		t.Error("failed rebuild must not replace the current index")
	}
}
