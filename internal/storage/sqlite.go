package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding job records and indexed chunks.
type Store struct {
	db *sql.DB
}

// pragmas are applied to every file-backed connection through the DSN.
var pragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)", "synchronous(NORMAL)"}

// Open opens dataDir/pdfsum.db, creating the directory and file as needed,
// and applies pending migrations. ":memory:" opens a private in-memory
// database instead.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		q := url.Values{"_pragma": pragmas}
		dsn = "file:" + filepath.Join(dataDir, "pdfsum.db") + "?" + q.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers; an in-memory database also lives
	// only as long as its single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database %s: %w", dsn, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for packages that own their own tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Jobs ---

const jobColumns = `id, filename, model, status, chunk_count, output_path, error, error_kind, created_at, updated_at`

// CreateJob inserts a job in the running state.
func (s *Store) CreateJob(job Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, 0, '', '', '', ?, ?)`,
		job.ID, job.Filename, job.Model, JobRunning,
		job.CreatedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// SetJobChunks records how many chunks the job's text was split into.
func (s *Store) SetJobChunks(id string, n int) error {
	return s.updateJob(`UPDATE jobs SET chunk_count = ?, updated_at = ? WHERE id = ?`,
		n, time.Now().UTC().Format(time.RFC3339), id)
}

// CompleteJob marks the job completed with the location of its summary.
func (s *Store) CompleteJob(id, outputPath string) error {
	return s.updateJob(`UPDATE jobs SET status = ?, output_path = ?, error = '', error_kind = '', updated_at = ? WHERE id = ?`,
		JobCompleted, outputPath, time.Now().UTC().Format(time.RFC3339), id)
}

// FailJob marks the job failed. kind classifies the failure for the API layer.
func (s *Store) FailJob(id, kind, errMsg string) error {
	return s.updateJob(`UPDATE jobs SET status = ?, error = ?, error_kind = ?, updated_at = ? WHERE id = ?`,
		JobFailed, errMsg, kind, time.Now().UTC().Format(time.RFC3339), id)
}

func (s *Store) updateJob(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJob returns the job with the given ID or ErrNotFound.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(limit, offset int) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.Filename, &j.Model, &j.Status, &j.ChunkCount, &j.OutputPath,
		&j.Error, &j.ErrorKind, &createdAt, &updatedAt)
	if err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}
