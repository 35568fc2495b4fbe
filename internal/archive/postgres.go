package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/model"
)

// Schema creates the archive table.
const Schema = `CREATE TABLE IF NOT EXISTS nfse_jobs (
    id                TEXT PRIMARY KEY,
    taxpayer_id       TEXT NOT NULL,
    period_from       DATE NOT NULL,
    period_to         DATE NOT NULL,
    status            TEXT NOT NULL,
    current_page      INTEGER NOT NULL DEFAULT 0,
    total_pages       INTEGER NOT NULL DEFAULT 0,
    written           INTEGER NOT NULL DEFAULT 0,
    skipped_duplicate INTEGER NOT NULL DEFAULT 0,
    conflicted        INTEGER NOT NULL DEFAULT 0,
    failed_writes     INTEGER NOT NULL DEFAULT 0,
    retries           INTEGER NOT NULL DEFAULT 0,
    error             TEXT NOT NULL DEFAULT '',
    errors            TEXT[] NOT NULL DEFAULT '{}',
    conflicts         JSONB NOT NULL DEFAULT '[]',
    created_at        TIMESTAMPTZ NOT NULL,
    started_at        TIMESTAMPTZ,
    finished_at       TIMESTAMPTZ,
    archived_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS nfse_jobs_taxpayer_idx ON nfse_jobs (taxpayer_id, created_at DESC);`

const table = "nfse_jobs"

var columns = []string{
	"id", "taxpayer_id", "period_from", "period_to", "status",
	"current_page", "total_pages", "written", "skipped_duplicate", "conflicted",
	"failed_writes", "retries", "error", "errors", "conflicts",
	"created_at", "started_at", "finished_at",
}

// DB is the subset of *sql.DB the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresStore persists job snapshots into Postgres.
type PostgresStore struct {
	db      DB
	builder sq.StatementBuilderType
}

var _ download.Archiver = (*PostgresStore)(nil)

// NewPostgresStore wires a database handle.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to dsn with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse archive dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the archive table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts the snapshot. Saving the same job twice keeps the latest.
func (s *PostgresStore) Save(ctx context.Context, snap download.Snapshot) error {
	query, args, err := s.saveQuery(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job %s: %w", snap.ID, err)
	}
	return nil
}

func (s *PostgresStore) saveQuery(snap download.Snapshot) (string, []any, error) {
	conflicts, err := json.Marshal(nonNil(snap.Conflicts))
	if err != nil {
		return "", nil, fmt.Errorf("encode conflicts: %w", err)
	}

	query, args, err := s.builder.
		Insert(table).
		Columns(columns...).
		Values(
			snap.ID,
			snap.TaxpayerID,
			snap.From,
			snap.To,
			snap.Status.String(),
			snap.Progress.CurrentPage,
			snap.Progress.TotalPages,
			snap.Progress.Written,
			snap.Progress.SkippedDuplicate,
			snap.Progress.Conflicted,
			snap.FailedWrites,
			snap.Retries,
			snap.Error,
			pq.StringArray(nonNil(snap.Errors)),
			string(conflicts),
			snap.CreatedAt,
			nullTime(snap.StartedAt),
			nullTime(snap.FinishedAt),
		).
		Suffix(`ON CONFLICT (id) DO UPDATE
              SET status = EXCLUDED.status,
                  current_page = EXCLUDED.current_page,
                  total_pages = EXCLUDED.total_pages,
                  written = EXCLUDED.written,
                  skipped_duplicate = EXCLUDED.skipped_duplicate,
                  conflicted = EXCLUDED.conflicted,
                  failed_writes = EXCLUDED.failed_writes,
                  retries = EXCLUDED.retries,
                  error = EXCLUDED.error,
                  errors = EXCLUDED.errors,
                  conflicts = EXCLUDED.conflicts,
                  started_at = EXCLUDED.started_at,
                  finished_at = EXCLUDED.finished_at,
                  archived_at = NOW()`).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert: %w", err)
	}
	return query, args, nil
}

// List returns archived snapshots of a taxpayer, newest first. An empty
// taxpayerID lists every taxpayer; a zero limit means no limit.
func (s *PostgresStore) List(ctx context.Context, taxpayerID string, limit uint64) ([]download.Snapshot, error) {
	query, args, err := s.listQuery(taxpayerID, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}

	var result []download.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result = append(result, snap)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

func (s *PostgresStore) listQuery(taxpayerID string, limit uint64) (string, []any, error) {
	q := s.builder.
		Select(columns...).
		From(table).
		OrderBy("created_at DESC", "id")
	if taxpayerID != "" {
		q = q.Where(sq.Eq{"taxpayer_id": model.NormalizeTaxpayerID(taxpayerID)})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build list: %w", err)
	}
	return query, args, nil
}

func scanSnapshot(rows *sql.Rows) (download.Snapshot, error) {
	var (
		snap       download.Snapshot
		status     string
		errs       pq.StringArray
		conflicts  []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := rows.Scan(
		&snap.ID,
		&snap.TaxpayerID,
		&snap.From,
		&snap.To,
		&status,
		&snap.Progress.CurrentPage,
		&snap.Progress.TotalPages,
		&snap.Progress.Written,
		&snap.Progress.SkippedDuplicate,
		&snap.Progress.Conflicted,
		&snap.FailedWrites,
		&snap.Retries,
		&snap.Error,
		&errs,
		&conflicts,
		&snap.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return download.Snapshot{}, fmt.Errorf("scan job: %w", err)
	}

	if err := snap.Status.UnmarshalText([]byte(status)); err != nil {
		return download.Snapshot{}, err
	}
	snap.Errors = []string(errs)
	if err := json.Unmarshal(conflicts, &snap.Conflicts); err != nil {
		return download.Snapshot{}, fmt.Errorf("decode conflicts of %s: %w", snap.ID, err)
	}
	if startedAt.Valid {
		snap.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		snap.FinishedAt = &finishedAt.Time
	}
	return snap, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
