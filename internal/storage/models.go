package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered question, kept as a durable log entry.
// Conversational state lives in memory per session; this table exists so
// past answers and their citations can be reviewed after the fact.
type Interaction struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Query     string
	Reply     string
	Guidance  string
	Resource  string
	CitedIDs  string // JSON array stored as text
}
