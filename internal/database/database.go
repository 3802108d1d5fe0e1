package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job id has no row.
var ErrNotFound = errors.New("job not found")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	progress TEXT NOT NULL DEFAULT '',
	speed TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	filepath TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Store persists download jobs in a SQLite database. It is safe for use
// from the request handlers and the extraction goroutines concurrently.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the job database at path and
// prepares the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database %s: %w", path, err)
	}

	// WAL mode and a busy timeout keep the handler goroutines and the
	// extraction goroutines from tripping over each other.
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		log.WithError(err).Warn("Failed to set SQLite pragmas")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs schema: %w", err)
	}

	log.Debugf("Job database opened at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a fresh job row in the starting state.
func (s *Store) CreateJob(id, url string) error {
	query := `INSERT INTO jobs (id, url, status, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.Exec(query, id, url, models.StatusStarting, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", id, err)
	}
	return nil
}

// UpdateProgress records an in-flight progress report for a job.
func (s *Store) UpdateProgress(id, progress, speed string) error {
	query := `UPDATE jobs SET status = ?, progress = ?, speed = ? WHERE id = ?`
	_, err := s.db.Exec(query, models.StatusDownloading, progress, speed, id)
	return err
}

// MarkFinished moves a job to the finished state and records the path of
// the produced file.
func (s *Store) MarkFinished(id, path string) error {
	query := `UPDATE jobs SET status = ?, progress = '100%', speed = '', filepath = ? WHERE id = ?`
	_, err := s.db.Exec(query, models.StatusFinished, path, id)
	return err
}

// MarkError moves a job to the error state with a message for clients.
func (s *Store) MarkError(id, message string) error {
	query := `UPDATE jobs SET status = ?, speed = '', error = ? WHERE id = ?`
	_, err := s.db.Exec(query, models.StatusError, message, id)
	return err
}

// GetJob fetches a job by id. Returns ErrNotFound for unknown ids.
func (s *Store) GetJob(id string) (models.Job, error) {
	query := `SELECT id, url, status, progress, speed, error, filepath, created_at FROM jobs WHERE id = ?`
	var job models.Job
	err := s.db.QueryRow(query, id).Scan(
		&job.ID, &job.URL, &job.Status, &job.Progress, &job.Speed, &job.Error, &job.Filepath, &job.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("fetching job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]models.Job, error) {
	query := `SELECT id, url, status, progress, speed, error, filepath, created_at FROM jobs ORDER BY created_at DESC`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(&job.ID, &job.URL, &job.Status, &job.Progress, &job.Speed, &job.Error, &job.Filepath, &job.Timestamp); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
