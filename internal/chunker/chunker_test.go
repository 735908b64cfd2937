package chunker

import (
	"strings"
	"testing"

	"github.com/medqa/medqa/internal/document"
)

func doc(text string) document.Document {
	return document.Document{Path: "doc.txt", Format: document.FormatPlainText, Text: text}
}

func TestSplit_Empty(t *testing.T) {
	c := New(100, 20)
	if chunks := c.Split(doc("")); chunks != nil {
		t.Errorf("got %d chunks, want none", len(chunks))
	}
	if chunks := c.Split(doc("   \n\n  ")); chunks != nil {
		t.Errorf("got %d chunks for whitespace-only text, want none", len(chunks))
	}
}

func TestSplit_SingleSentence(t *testing.T) {
	c := New(100, 20)
	chunks := c.Split(doc("Diabetes is a chronic condition."))
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Diabetes is a chronic condition." {
		t.Errorf("Text = %q", chunks[0].Text)
	}
	if chunks[0].ID != "doc.txt#0" {
		t.Errorf("ID = %q, want doc.txt#0", chunks[0].ID)
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("Ordinal = %d, want 0", chunks[0].Ordinal)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The heart pumps blood through the body. Blood pressure varies during the day. ", 40)
	c := New(700, 200)

	a := c.Split(doc(text))
	b := c.Split(doc(text))
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSplit_BoundedAndSentenceAligned(t *testing.T) {
	text := strings.Repeat("Regular exercise lowers blood pressure. A balanced diet helps as well. ", 30)
	c := New(200, 50)

	chunks := c.Split(doc(text))
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Text) > 200 {
			t.Errorf("chunk %d has %d bytes, want <= 200", i, len(ch.Text))
		}
		if !strings.HasSuffix(ch.Text, ".") {
			t.Errorf("chunk %d does not end at a sentence boundary: %q", i, ch.Text)
		}
		if ch.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, ch.Ordinal)
		}
	}
}

func TestSplit_AdjacentChunksOverlap(t *testing.T) {
	text := strings.Repeat("Sentence one is here. Sentence two is here. Sentence three is here. ", 20)
	c := New(200, 60)

	chunks := c.Split(doc(text))
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].Start + len(chunks[i-1].Text)
		if chunks[i].Start >= prevEnd {
			t.Errorf("chunks %d and %d do not overlap (prev end %d, next start %d)",
				i-1, i, prevEnd, chunks[i].Start)
		}
		shared := prevEnd - chunks[i].Start
		if shared > 60 {
			t.Errorf("overlap between chunks %d and %d is %d bytes, want <= 60", i-1, i, shared)
		}
	}
}

func TestSplit_OversizedSentence(t *testing.T) {
	// One 1000-byte "sentence" with no terminator must still be chunked.
	text := strings.Repeat("x", 1000)
	c := New(300, 50)

	chunks := c.Split(doc(text))
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want >= 3", len(chunks))
	}
	total := 0
	for i, ch := range chunks {
		if len(ch.Text) > 300 {
			t.Errorf("chunk %d has %d bytes, want <= 300", i, len(ch.Text))
		}
		total += len(ch.Text)
	}
	if total < 1000 {
		t.Errorf("chunks cover %d bytes, want >= 1000 (full coverage with overlap)", total)
	}
}

func TestSplit_MultibyteSafe(t *testing.T) {
	text := strings.Repeat("é", 500) // 2-byte runes, no sentence breaks
	c := New(301, 0)                // odd size would split a rune if not aligned

	chunks := c.Split(doc(text))
	for i, ch := range chunks {
		for _, r := range ch.Text {
			if r == '�' {
				t.Fatalf("chunk %d contains a split rune", i)
			}
		}
	}
}

func TestSplit_IDsStableAcrossRebuilds(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	c := New(45, 10)

	first := c.Split(doc(text))
	second := c.Split(doc(text))
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d ID changed: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
}
