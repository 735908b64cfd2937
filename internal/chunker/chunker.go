// Package chunker splits decoded documents into overlapping text segments
// sized for embedding.
package chunker

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/medqa/medqa/internal/document"
)

// DefaultMaxChars is the default chunk size in bytes.
const DefaultMaxChars = 700

// DefaultOverlapChars is the default overlap between adjacent chunks.
const DefaultOverlapChars = 200

// Chunk is one bounded segment of a document, the unit of embedding and
// retrieval. The ID is derived from the source path and the byte offset of
// the segment, so rebuilding an unchanged document yields identical IDs.
type Chunk struct {
	ID      string
	Source  string
	Ordinal int
	Start   int
	Text    string
}

// Chunker produces deterministic, sentence-aligned chunks. Given the same
// document text and configuration it always emits identical boundaries.
type Chunker struct {
	maxChars int
	overlap  int
}

// New creates a Chunker. Non-positive maxChars falls back to the default;
// an overlap at or above the chunk size is clamped to a quarter of it.
func New(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChars {
		overlap = maxChars / 4
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}
}

// Split chunks a document. Sentences are never divided across chunks unless
// a single sentence exceeds the chunk size, in which case it is split on
// rune boundaries. Adjacent chunks share up to the configured overlap of
// trailing sentences. An empty document yields no chunks.
func (c *Chunker) Split(doc document.Document) []Chunk {
	units := sentenceSpans(doc.Text)
	if len(units) == 0 {
		return nil
	}
	units = c.explodeOversized(doc.Text, units)

	var chunks []Chunk
	i := 0
	ordinal := 0
	for i < len(units) {
		start := units[i].start
		j := i
		end := units[j].end
		for j+1 < len(units) && units[j+1].end-start <= c.maxChars {
			j++
			end = units[j].end
		}

		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("%s#%d", doc.Path, start),
			Source:  doc.Path,
			Ordinal: ordinal,
			Start:   start,
			Text:    doc.Text[start:end],
		})
		ordinal++

		if j+1 >= len(units) {
			break
		}

		// Back up whole sentences totalling at most the overlap budget.
		k := j + 1
		for k-1 > i && end-units[k-1].start <= c.overlap {
			k--
		}
		if k <= i {
			k = i + 1
		}
		i = k
	}
	return chunks
}

type span struct {
	start, end int
}

// explodeOversized replaces any sentence longer than the chunk size with
// rune-aligned windows so every unit fits in a chunk.
func (c *Chunker) explodeOversized(text string, units []span) []span {
	out := make([]span, 0, len(units))
	for _, u := range units {
		if u.end-u.start <= c.maxChars {
			out = append(out, u)
			continue
		}
		step := c.maxChars - c.overlap
		if step <= 0 {
			step = c.maxChars
		}
		pos := u.start
		for pos < u.end {
			winEnd := runeAlignedEnd(text, pos, u.end, c.maxChars)
			out = append(out, span{start: pos, end: winEnd})
			if winEnd >= u.end {
				break
			}
			next := runeAlignedEnd(text, pos, u.end, step)
			if next <= pos {
				break
			}
			pos = next
		}
	}
	return out
}

// runeAlignedEnd returns the largest offset <= start+max (and <= limit) that
// does not split a UTF-8 sequence.
func runeAlignedEnd(text string, start, limit, max int) int {
	end := start + max
	if end >= limit {
		return limit
	}
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	return end
}

// sentenceSpans scans text into trimmed sentence spans. A sentence ends at a
// run of terminator punctuation followed by whitespace, or at a newline.
func sentenceSpans(text string) []span {
	var spans []span
	start := -1
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if start == -1 {
			if !unicode.IsSpace(r) {
				start = i
			}
			i += size
			continue
		}
		if r == '\n' {
			spans = appendSpan(spans, text, start, i)
			start = -1
			i += size
			continue
		}
		if isTerminator(r) {
			j := i + size
			for j < len(text) {
				r2, s2 := utf8.DecodeRuneInString(text[j:])
				if isTerminator(r2) || r2 == '"' || r2 == '\'' || r2 == ')' {
					j += s2
					continue
				}
				break
			}
			if j >= len(text) {
				spans = appendSpan(spans, text, start, j)
				start = -1
				i = j
				continue
			}
			if r2, _ := utf8.DecodeRuneInString(text[j:]); unicode.IsSpace(r2) {
				spans = appendSpan(spans, text, start, j)
				start = -1
			}
			i = j
			continue
		}
		i += size
	}
	if start != -1 {
		spans = appendSpan(spans, text, start, len(text))
	}
	return spans
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func appendSpan(spans []span, text string, start, end int) []span {
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if end <= start {
		return spans
	}
	return append(spans, span{start: start, end: end})
}
