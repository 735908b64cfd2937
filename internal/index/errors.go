package index

import "fmt"

// ErrorKind classifies index load failures.
type ErrorKind int

const (
	// KindNotFound means no persisted index exists at the storage location.
	KindNotFound ErrorKind = iota
	// KindCorrupt means the persisted index exists but cannot be decoded.
	KindCorrupt
	// KindModelMismatch means the persisted index was built with a different
	// embedding model than the one configured now.
	KindModelMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindCorrupt:
		return "corrupt"
	case KindModelMismatch:
		return "model mismatch"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by Load when a persisted index cannot be used. The
// ingestion pipeline treats every kind as "must rebuild".
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("index %s", e.Kind)
	}
	return fmt.Sprintf("index %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
