package document

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScan_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "second")
	writeFile(t, dir, "a.txt", "first")
	writeFile(t, dir, "sub/c.md", "third")
	writeFile(t, dir, "ignore.exe", "binary")
	writeFile(t, dir, ".hidden.txt", "hidden")

	sources, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var paths []string
	for _, s := range sources {
		paths = append(paths, s.Path)
	}
	want := []string{"a.txt", "b.txt", "sub/c.md"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestScan_MissingRoot(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestScan_EmptyRoot(t *testing.T) {
	sources, err := Scan(t.TempDir())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("got %d sources, want 0", len(sources))
	}
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "beta")

	sources, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp1, err := Fingerprint(sources)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fp2, err := Fingerprint(sources)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp1 != fp2 {
		t.Errorf("fingerprint not stable: %s vs %s", fp1, fp2)
	}

	// Adding a document changes the fingerprint.
	writeFile(t, dir, "c.txt", "gamma")
	sources2, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp3, err := Fingerprint(sources2)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp3 == fp1 {
		t.Error("fingerprint unchanged after adding a document")
	}

	// Editing content (same size) changes the fingerprint too.
	writeFile(t, dir, "a.txt", "alphA")
	sources3, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp4, err := Fingerprint(sources3)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp4 == fp3 {
		t.Error("fingerprint unchanged after editing a document")
	}
}

func TestLoad_PlainText(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "doc.txt", "Diabetes is a chronic   condition.\r\nIt affects blood sugar.")

	doc, err := Load(Source{Path: "doc.txt", AbsPath: abs})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Format != FormatPlainText {
		t.Errorf("Format = %v, want FormatPlainText", doc.Format)
	}
	want := "Diabetes is a chronic condition.\nIt affects blood sugar."
	if doc.Text != want {
		t.Errorf("Text = %q, want %q", doc.Text, want)
	}
}

func TestLoad_InvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(Source{Path: "bad.txt", AbsPath: path})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if decodeErr.Path != "bad.txt" {
		t.Errorf("Path = %q, want bad.txt", decodeErr.Path)
	}
}

func TestLoad_HTML(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "page.html",
		`<html><head><style>body{}</style></head><body><h1>Hypertension</h1><p>High blood pressure.</p><script>x()</script></body></html>`)

	doc, err := Load(Source{Path: "page.html", AbsPath: abs})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Format != FormatStructured {
		t.Errorf("Format = %v, want FormatStructured", doc.Format)
	}
	want := "Hypertension High blood pressure."
	if doc.Text != want {
		t.Errorf("Text = %q, want %q", doc.Text, want)
	}
}

func TestLoad_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte(`<w:document><w:body><w:p w:rsidR="00"><w:r><w:t>Asthma</w:t></w:r><w:r><w:t xml:space="preserve">management basics</w:t></w:r></w:p></w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.docx")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(Source{Path: "doc.docx", AbsPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Text != "Asthma management basics" {
		t.Errorf("Text = %q", doc.Text)
	}
}

func TestLoad_CorruptDOCX(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "broken.docx", "not a zip at all")

	_, err := Load(Source{Path: "broken.docx", AbsPath: abs})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "data.csv", "a,b,c")

	_, err := Load(Source{Path: "data.csv", AbsPath: abs})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}
