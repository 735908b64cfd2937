package index

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Save writes the full index snapshot to the database, replacing any prior
// snapshot in one transaction. Vector values round-trip bit-for-bit: they
// are stored as little-endian float32 blobs.
func (ix *Index) Save(db *sql.DB) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM chunk_vectors`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing prior snapshot: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO index_manifest (id, fingerprint, embed_model, dimension)
		VALUES (1, ?, ?, ?)`,
		ix.fingerprint, ix.model, ix.dim); err != nil {
		tx.Rollback()
		return fmt.Errorf("writing manifest: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunk_vectors (id, source, ordinal, start_offset, text_chunk, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	// Insert in sorted id order so the on-disk layout is reproducible.
	ids := make([]string, 0, len(ix.entries))
	for id := range ix.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := ix.entries[id]
		if _, err := stmt.Exec(e.ChunkID, e.Source, e.Ordinal, e.Start, e.Text, encodeFloat32s(e.Vector)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting entry %s: %w", e.ChunkID, err)
		}
	}

	return tx.Commit()
}

// Load restores a persisted index snapshot. It fails with *Error of kind
// KindNotFound when no snapshot exists, KindModelMismatch when the snapshot
// was built with a different embedding model than wantModel, and
// KindCorrupt when the stored data cannot be decoded.
func Load(db *sql.DB, wantModel string) (*Index, error) {
	var fingerprint, model string
	var dim int
	err := db.QueryRow(`SELECT fingerprint, embed_model, dimension FROM index_manifest WHERE id = 1`).
		Scan(&fingerprint, &model, &dim)
	if err == sql.ErrNoRows {
		return nil, &Error{Kind: KindNotFound}
	}
	if err != nil {
		return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("reading manifest: %w", err)}
	}

	if model != wantModel {
		return nil, &Error{Kind: KindModelMismatch, Err: fmt.Errorf("index built with %q, configured model is %q", model, wantModel)}
	}
	if dim <= 0 {
		return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("manifest dimension %d", dim)}
	}

	rows, err := db.Query(`SELECT id, source, ordinal, start_offset, text_chunk, embedding FROM chunk_vectors`)
	if err != nil {
		return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("reading vectors: %w", err)}
	}
	defer rows.Close()

	ix := New(fingerprint, model, dim)
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.ChunkID, &e.Source, &e.Ordinal, &e.Start, &e.Text, &blob); err != nil {
			return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("scanning row: %w", err)}
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("decoding embedding for %s: %w", e.ChunkID, err)}
		}
		if len(vec) != dim {
			return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("entry %s has dimension %d, manifest says %d", e.ChunkID, len(vec), dim)}
		}
		e.Vector = vec
		ix.entries[e.ChunkID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Kind: KindCorrupt, Err: fmt.Errorf("iterating rows: %w", err)}
	}

	return ix, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// A length that is not a multiple of 4 indicates data corruption.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
