// Package document discovers, decodes, and fingerprints the source corpus.
package document

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the closed set of document content formats the pipeline accepts.
type Format int

const (
	// FormatPlainText covers files whose bytes are the text itself (.txt, .md).
	FormatPlainText Format = iota
	// FormatStructured covers container formats that need text extraction
	// before chunking (.pdf, .docx, .html).
	FormatStructured
)

func (f Format) String() string {
	switch f {
	case FormatPlainText:
		return "plain"
	case FormatStructured:
		return "structured"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Document is one decoded source file. Immutable once loaded; identity is
// the path relative to the corpus root.
type Document struct {
	Path   string
	Format Format
	Text   string
}

// Source describes one file discovered during a corpus scan, before decoding.
type Source struct {
	Path    string // relative to the corpus root, slash-separated
	AbsPath string
	Size    int64
}

// DecodeError reports that a single source file could not be decoded to text.
// The pipeline skips the affected document and continues.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// supportedExtensions maps file extensions to their format.
var supportedExtensions = map[string]Format{
	".txt":  FormatPlainText,
	".md":   FormatPlainText,
	".pdf":  FormatStructured,
	".docx": FormatStructured,
	".html": FormatStructured,
	".htm":  FormatStructured,
}

// FormatFor returns the format for a file path and whether the extension is
// supported at all.
func FormatFor(path string) (Format, bool) {
	f, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}
