package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Scan enumerates supported files under root, returned in sorted path order
// so downstream processing is deterministic. Hidden files and directories
// are skipped. A missing root is an error; an existing empty root returns
// an empty slice (the pipeline decides how to treat an empty corpus).
func Scan(root string) ([]Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", root)
	}

	var sources []Source
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && name[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if name[0] == '.' {
			return nil
		}
		if _, ok := FormatFor(name); !ok {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sources = append(sources, Source{
			Path:    filepath.ToSlash(rel),
			AbsPath: path,
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// Fingerprint derives a stable digest of the corpus content: a SHA-256 over
// the sorted list of (path, size, content digest) triples. Any added,
// removed, renamed, or edited file changes the fingerprint, which is what
// the index staleness check keys on.
func Fingerprint(sources []Source) (string, error) {
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, src := range sorted {
		contentSum, err := fileDigest(src.AbsPath)
		if err != nil {
			return "", fmt.Errorf("fingerprinting %s: %w", src.Path, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", src.Path, src.Size, contentSum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
