package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/pdfcrawl/internal/model"
)

// FileName is the name of the database file inside the data directory.
const FileName = "pdfcrawl.db"

// CrawlDB provides SQLite-based storage for finished runs and their records.
// It satisfies crawler.Recorder.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist,
// ErrDatabaseNotFound is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per finished run
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed_url TEXT NOT NULL,
		state TEXT NOT NULL,
		max_depth INTEGER NOT NULL DEFAULT 0,
		current_depth INTEGER NOT NULL DEFAULT 0,
		urls_visited INTEGER NOT NULL DEFAULT 0,
		pdfs_found INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_seed ON runs(seed_url);

	-- PDF records in discovery order
	CREATE TABLE IF NOT EXISTS pdf_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		filename TEXT NOT NULL,
		source_url TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER,
		status TEXT NOT NULL,
		local_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '',
		found_at TEXT NOT NULL,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_records_run ON pdf_records(run_id);
	CREATE INDEX IF NOT EXISTS idx_records_url ON pdf_records(url);
	CREATE INDEX IF NOT EXISTS idx_records_checksum ON pdf_records(checksum);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveRun stores the final status of a run and all of its records in one
// transaction. Saving the same run again replaces the stored values.
func (cdb *CrawlDB) SaveRun(ctx context.Context, status model.CrawlStatus, results model.Results) error {
	if status.RunID == "" {
		return errors.New("cannot save a run without an ID")
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	runQuery := `
	INSERT INTO runs (id, seed_url, state, max_depth, current_depth, urls_visited, pdfs_found, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		seed_url = excluded.seed_url,
		state = excluded.state,
		max_depth = excluded.max_depth,
		current_depth = excluded.current_depth,
		urls_visited = excluded.urls_visited,
		pdfs_found = excluded.pdfs_found,
		error = excluded.error,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at
	`
	_, err = tx.ExecContext(ctx, runQuery,
		status.RunID,
		status.SeedURL,
		string(status.State),
		status.MaxDepth,
		status.CurrentDepth,
		results.TotalURLsVisited,
		status.PDFsFound,
		status.Error,
		formatTimestamp(status.StartedAt),
		nullTimestamp(status.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pdf_records WHERE run_id = ?", status.RunID); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO pdf_records (run_id, position, url, filename, source_url, content_type, size, status, local_path, error, checksum, metadata, found_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range results.PDFs {
		var size sql.NullInt64
		if rec.Size != nil {
			size = sql.NullInt64{Int64: *rec.Size, Valid: true}
		}

		var metadata string
		if len(rec.Metadata) > 0 {
			b, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to serialize metadata: %w", err)
			}
			metadata = string(b)
		}

		_, err := stmt.ExecContext(ctx,
			status.RunID,
			i,
			rec.URL,
			rec.Filename,
			rec.SourceURL,
			rec.ContentType,
			size,
			string(rec.Status),
			rec.LocalPath,
			rec.Error,
			rec.Checksum,
			metadata,
			formatTimestamp(rec.FoundAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save record %s: %w", rec.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, seed_url, state, max_depth, current_depth, urls_visited, pdfs_found, error, started_at, finished_at`

// RunSummary is a stored run without its records.
type RunSummary struct {
	// Status is the final status of the run.
	Status model.CrawlStatus

	// URLsVisited is the size of the visited set when the run ended.
	URLsVisited int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunSummary, error) {
	var (
		sum        RunSummary
		state      string
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(
		&sum.Status.RunID,
		&sum.Status.SeedURL,
		&state,
		&sum.Status.MaxDepth,
		&sum.Status.CurrentDepth,
		&sum.URLsVisited,
		&sum.Status.PDFsFound,
		&sum.Status.Error,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return RunSummary{}, err
	}

	sum.Status.State = model.CrawlState(state)
	sum.Status.URLsProcessed = sum.URLsVisited
	sum.Status.StartedAt = parseTimestamp(startedAt)
	if finishedAt.Valid {
		sum.Status.FinishedAt = parseTimestamp(finishedAt.String)
	}
	return sum, nil
}

// ListRuns returns stored runs, newest first. A limit of zero or less
// returns every run.
func (cdb *CrawlDB) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, sum)
	}
	return runs, rows.Err()
}

// GetRun retrieves a run by ID. It returns nil without an error when the
// run does not exist.
func (cdb *CrawlDB) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	row := cdb.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &sum, nil
}

// GetRecords returns the records of a run in discovery order.
func (cdb *CrawlDB) GetRecords(ctx context.Context, runID string) ([]model.PDFRecord, error) {
	query := `
	SELECT url, filename, source_url, content_type, size, status, local_path, error, checksum, metadata, found_at
	FROM pdf_records
	WHERE run_id = ?
	ORDER BY position
	`

	rows, err := cdb.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	records := make([]model.PDFRecord, 0)
	for rows.Next() {
		var (
			rec      model.PDFRecord
			size     sql.NullInt64
			status   string
			metadata string
			foundAt  string
		)
		err := rows.Scan(
			&rec.URL,
			&rec.Filename,
			&rec.SourceURL,
			&rec.ContentType,
			&size,
			&status,
			&rec.LocalPath,
			&rec.Error,
			&rec.Checksum,
			&metadata,
			&foundAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.Status = model.PDFStatus(status)
		rec.FoundAt = parseTimestamp(foundAt)
		if size.Valid {
			rec.Size = model.Int64Ptr(size.Int64)
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
				rec.Metadata = nil // Skip malformed metadata
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetResults rebuilds the results of a stored run. It returns nil without
// an error when the run does not exist.
func (cdb *CrawlDB) GetResults(ctx context.Context, runID string) (*model.CrawlStatus, *model.Results, error) {
	sum, err := cdb.GetRun(ctx, runID)
	if err != nil || sum == nil {
		return nil, nil, err
	}
	records, err := cdb.GetRecords(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return &sum.Status, &model.Results{PDFs: records, TotalURLsVisited: sum.URLsVisited}, nil
}

// FindByChecksum returns records of any run whose downloaded bytes hashed
// to checksum, newest run first.
func (cdb *CrawlDB) FindByChecksum(ctx context.Context, checksum string) ([]model.PDFRecord, error) {
	query := `
	SELECT r.run_id
	FROM pdf_records r JOIN runs ON runs.id = r.run_id
	WHERE r.checksum = ?
	GROUP BY r.run_id
	ORDER BY MAX(runs.started_at) DESC
	`
	rows, err := cdb.db.QueryContext(ctx, query, checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to query checksum: %w", err)
	}
	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		runIDs = append(runIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var matches []model.PDFRecord
	for _, id := range runIDs {
		records, err := cdb.GetRecords(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.Checksum == checksum {
				matches = append(matches, rec)
			}
		}
	}
	return matches, nil
}

// DeleteRun removes a run and its records. Deleting a missing run is not
// an error.
func (cdb *CrawlDB) DeleteRun(ctx context.Context, id string) error {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM pdf_records WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return tx.Commit()
}

// timestampLayout has a fixed width so that stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func nullTimestamp(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(t), Valid: true}
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05", // SQLite default datetime format
	"2006-01-02T15:04:05",
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
