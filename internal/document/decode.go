package document

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Load reads and decodes a scanned source file into a Document.
// Decode failures are returned as *DecodeError so callers can skip the
// affected file without aborting the rest of the corpus.
func Load(src Source) (Document, error) {
	format, ok := FormatFor(src.Path)
	if !ok {
		return Document{}, &DecodeError{Path: src.Path, Err: fmt.Errorf("unsupported extension %q", filepath.Ext(src.Path))}
	}

	raw, err := os.ReadFile(src.AbsPath)
	if err != nil {
		return Document{}, &DecodeError{Path: src.Path, Err: err}
	}

	var text string
	switch format {
	case FormatPlainText:
		text, err = decodePlainText(raw)
	case FormatStructured:
		text, err = extractStructured(src.Path, raw)
	}
	if err != nil {
		return Document{}, &DecodeError{Path: src.Path, Err: err}
	}

	text = normalizeWhitespace(text)
	if text == "" {
		return Document{}, &DecodeError{Path: src.Path, Err: fmt.Errorf("no extractable text")}
	}

	return Document{Path: src.Path, Format: format, Text: text}, nil
}

func decodePlainText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("not valid UTF-8")
	}
	return string(raw), nil
}

func extractStructured(path string, raw []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(raw)
	case ".docx":
		return extractDOCX(raw)
	case ".html", ".htm":
		return extractHTML(raw)
	default:
		return "", fmt.Errorf("unsupported structured format %q", filepath.Ext(path))
	}
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

const docxDocumentXMLPath = "word/document.xml"

// wtTag matches <w:t>text</w:t> including attributes such as xml:space.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// extractDOCX extracts text from .docx bytes. DOCX is a ZIP containing
// word/document.xml (OOXML); all <w:t> text nodes are joined so content
// survives regardless of paragraph or run attributes.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docxDocumentXMLPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: open %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: read %s: %w", f.Name, err)
		}
		docXML = buf.Bytes()
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docxDocumentXMLPath)
	}

	parts := wtTag.FindAllSubmatch(docXML, -1)
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(bytes.TrimSpace(p[1]))
	}
	return b.String(), nil
}

// extractHTML collects text nodes from an HTML document, skipping script
// and style elements.
func extractHTML(content []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String(), nil
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

// normalizeWhitespace collapses runs of spaces and blank lines so chunk
// boundaries don't depend on incidental formatting.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
