package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/semcache/pkg/models"
)

// Tracker records and queries gateway requests.
type Tracker interface {
	// Record stores a request record. An empty ID is filled in.
	Record(ctx context.Context, rec models.RequestRecord) error
	// Recent returns the latest records, newest first.
	Recent(ctx context.Context, limit int) ([]models.RequestRecord, error)
	// Summary aggregates records created at or after since, per category.
	Summary(ctx context.Context, since time.Time) ([]models.RequestSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS request_records (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	category TEXT NOT NULL,
	outcome TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL,
	tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_request_category_time ON request_records(category, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, goerr.Wrap(err, "open tracker db", goerr.V("path", dbPath))
	}

	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "migrate tracker db", goerr.V("path", dbPath))
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a request record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.RequestRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO request_records (id, kind, category, outcome, provider, latency_ms, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Category, string(rec.Outcome), rec.Provider, rec.LatencyMs, rec.Tokens, rec.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "record request", goerr.V("id", rec.ID))
	}
	return nil
}

// Recent returns the latest records, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.RequestRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, kind, category, outcome, provider, latency_ms, tokens, created_at
		 FROM request_records ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "query requests")
	}
	defer func() { _ = rows.Close() }()

	var records []models.RequestRecord
	for rows.Next() {
		var r models.RequestRecord
		var outcome string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Category, &outcome, &r.Provider, &r.LatencyMs, &r.Tokens, &r.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "scan request")
		}
		r.Outcome = models.Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns aggregated requests grouped by category.
func (t *SQLiteTracker) Summary(ctx context.Context, since time.Time) ([]models.RequestSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT category,
		        COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(latency_ms), 0),
		        COALESCE(SUM(tokens), 0)
		 FROM request_records WHERE created_at >= ?
		 GROUP BY category ORDER BY category`,
		string(models.OutcomeHit), string(models.OutcomeMiss), string(models.OutcomeError), string(models.OutcomeCancelled),
		since,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "summary")
	}
	defer func() { _ = rows.Close() }()

	var summaries []models.RequestSummary
	for rows.Next() {
		var s models.RequestSummary
		if err := rows.Scan(&s.Category, &s.RequestCount, &s.Hits, &s.Misses, &s.Errors, &s.Cancelled, &s.AvgLatencyMs, &s.TotalTokens); err != nil {
			return nil, goerr.Wrap(err, "scan summary")
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
