// Package index records document chunks per job so they can be looked up
// later. Nothing in the summarization path reads the index back.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/kalambet/pdfsum/internal/chunker"
	"github.com/kalambet/pdfsum/internal/storage"
)

// BatchEmbedder produces one vector per text, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is one indexed chunk.
type Record struct {
	ID        string
	JobID     string
	Seq       int
	Offset    int
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// Store writes chunk records to the chunk_vectors table. Records are
// namespaced by job: indexing a job replaces only that job's rows.
type Store struct {
	db       *sql.DB
	embedder BatchEmbedder
}

// NewStore wraps the database owned by st. embedder may be nil, in which
// case records are stored without vectors.
func NewStore(st *storage.Store, embedder BatchEmbedder) *Store {
	return &Store{db: st.DB(), embedder: embedder}
}

// RecordID returns the deterministic ID of a chunk record.
func RecordID(jobID string, seq int) string {
	return fmt.Sprintf("doc-%s-%d", jobID, seq)
}

// IndexJob stores chunks under jobID, replacing any previous records for
// that job, and returns the number written.
func (s *Store) IndexJob(ctx context.Context, jobID string, chunks []chunker.Chunk) (int, error) {
	var vectors [][]float32
	if s.embedder != nil && len(chunks) > 0 {
		var err error
		vectors, err = s.embedder.EmbedBatch(ctx, chunker.Texts(chunks))
		if err != nil {
			return 0, fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vectors) != len(chunks) {
			return 0, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE job_id = ?`, jobID); err != nil {
		return 0, fmt.Errorf("clearing job %s: %w", jobID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_vectors (id, job_id, seq, byte_offset, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		var blob []byte
		if vectors != nil {
			blob = encodeFloat32s(vectors[i])
		}
		if _, err := stmt.ExecContext(ctx, RecordID(jobID, i), jobID, i, c.Offset, c.Text, blob, now); err != nil {
			return 0, fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing index transaction: %w", err)
	}
	return len(chunks), nil
}

// DeleteJob removes every record of jobID and returns how many were deleted.
func (s *Store) DeleteJob(jobID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM chunk_vectors WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, fmt.Errorf("deleting job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountJob returns the number of records stored for jobID.
func (s *Store) CountJob(jobID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_vectors WHERE job_id = ?`, jobID).Scan(&count)
	return count, err
}

// ListJob returns the records of jobID in sequence order.
func (s *Store) ListJob(ctx context.Context, jobID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, seq, byte_offset, text_chunk, embedding, created_at
		FROM chunk_vectors WHERE job_id = ? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying job %s: %w", jobID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Seq, &r.Offset, &r.Text, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if len(blob) > 0 {
			if r.Embedding, err = decodeFloat32s(blob); err != nil {
				return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
			}
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
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
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
