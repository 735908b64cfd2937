package ingest

import "fmt"

// ErrorKind classifies ingestion failures.
type ErrorKind int

const (
	// KindDecodeFailure means a single document could not be decoded. The
	// pipeline recovers by skipping it; the kind surfaces in skip reports.
	KindDecodeFailure ErrorKind = iota
	// KindEmptyCorpus means no usable document was found: the folder was
	// empty, or every document failed. No index is built.
	KindEmptyCorpus
)

func (k ErrorKind) String() string {
	switch k {
	case KindDecodeFailure:
		return "decode failure"
	case KindEmptyCorpus:
		return "empty corpus"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a structured ingestion failure carrying the kind and, for
// per-document failures, the affected path.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("ingest %s (%s): %v", e.Kind, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("ingest %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("ingest %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }
