// Package resultstore caches completed check results in a local SQLite
// database so they can be shown again without re-uploading.
//
// The most recently saved record is the "last result" shown by
// `plagctl result show` with no arguments.
package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/similarity"
)

const driverName = "sqlite"

// DefaultFileName is the database file name inside the app data dir.
const DefaultFileName = "results.db"

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("result not found")

// Source records how a result was obtained.
type Source string

const (
	SourceSync Source = "sync"
	SourceJob  Source = "job"
)

// Record is one cached result.
type Record struct {
	ID         string           `json:"id" yaml:"id"`
	JobID      string           `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Filename   string           `json:"filename" yaml:"filename"`
	Source     Source           `json:"source" yaml:"source"`
	Level      similarity.Level `json:"level" yaml:"level"`
	Similarity float64          `json:"similarity" yaml:"similarity"`
	Result     *api.CheckResult `json:"result" yaml:"result"`
	CreatedAt  time.Time        `json:"created_at" yaml:"created_at"`
}

// Config configures Open.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string
}

// Store is a SQLite-backed result cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the result database and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	// One connection keeps :memory: databases shared and file databases
	// free of writer contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping result store: %w", err)
	}
	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("result store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// Save stores a result. ID and CreatedAt are filled when empty. A record
// with the same JobID replaces the previous one.
func (s *Store) Save(ctx context.Context, rec Record) (*Record, error) {
	if rec.Result == nil {
		return nil, errors.New("result is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Source == "" {
		rec.Source = SourceSync
	}
	if rec.Filename == "" {
		rec.Filename = rec.Result.Filename
	}
	rec.Level = rec.Result.PlagiarismLevel
	rec.Similarity = rec.Result.OverallSimilarity

	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.JobID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE job_id = ?`, rec.JobID); err != nil {
			return nil, fmt.Errorf("replace result: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO results (id, job_id, filename, source, level, similarity, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullable(rec.JobID), rec.Filename, string(rec.Source), string(rec.Level),
		rec.Similarity, string(payload), rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &rec, nil
}

// Last returns the most recently saved record.
func (s *Store) Last(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx, `ORDER BY created_at DESC, seq DESC LIMIT 1`)
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	return s.queryOne(ctx, `WHERE id = ?`, id)
}

// GetByJob returns the record saved for a job.
func (s *Store) GetByJob(ctx context.Context, jobID string) (*Record, error) {
	return s.queryOne(ctx, `WHERE job_id = ?`, jobID)
}

// List returns records newest first, at most limit (0 = all).
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	q := selectColumns + ` ORDER BY created_at DESC, seq DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes records created before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const selectColumns = `SELECT id, job_id, filename, source, level, similarity, payload, created_at FROM results`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryOne(ctx context.Context, clause string, args ...any) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" "+clause, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		jobID     sql.NullString
		source    string
		level     string
		payload   string
		createdAt string
	)
	if err := row.Scan(&rec.ID, &jobID, &rec.Filename, &source, &level, &rec.Similarity, &payload, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	rec.JobID = jobID.String
	rec.Source = Source(source)
	rec.Level = similarity.Level(level)

	result, err := api.DecodeCheckResult([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", rec.ID, err)
	}
	rec.Result = result

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
