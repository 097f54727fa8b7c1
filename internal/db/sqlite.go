package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// schema for the prediction platform. Version is tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS model_registry (
    version       TEXT PRIMARY KEY,
    algorithm     TEXT NOT NULL,
    artifact      BLOB NOT NULL,
    threshold     REAL NOT NULL DEFAULT 0.5,
    accuracy      REAL NOT NULL DEFAULT 0.0,
    precision     REAL NOT NULL DEFAULT 0.0,
    recall        REAL NOT NULL DEFAULT 0.0,
    f1_score      REAL NOT NULL DEFAULT 0.0,
    auc           REAL NOT NULL DEFAULT 0.0,
    seed          INTEGER NOT NULL DEFAULT 0,
    schema        TEXT NOT NULL DEFAULT '[]',
    is_active     BOOLEAN NOT NULL DEFAULT 0,
    is_production BOOLEAN NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_model_registry_created_at ON model_registry(created_at DESC);

CREATE TABLE IF NOT EXISTS ab_outcomes (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id      TEXT NOT NULL,
    version      TEXT NOT NULL,
    prediction   INTEGER NOT NULL,
    actual_label INTEGER,
    confidence   REAL NOT NULL DEFAULT 0.0,
    timestamp    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ab_outcomes_test ON ab_outcomes(test_id, timestamp ASC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Model registry ───────────────────────────────────────────────────────────

func (s *sqliteStore) SaveEntry(ctx context.Context, rec *EntryRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO model_registry(version, algorithm, artifact, threshold, accuracy, precision, recall, f1_score, auc, seed, schema, is_active, is_production, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(version) DO UPDATE SET
            is_active     = excluded.is_active,
            is_production = excluded.is_production
    `,
		rec.Version, rec.Algorithm, rec.Artifact, rec.Threshold,
		rec.Accuracy, rec.Precision, rec.Recall, rec.F1, rec.AUC,
		rec.Seed, rec.Schema, rec.IsActive, rec.IsProduction,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert model entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) LoadAllEntries(ctx context.Context) ([]*EntryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, algorithm, artifact, threshold, accuracy, precision, recall, f1_score, auc, seed, schema, is_active, is_production, created_at
         FROM model_registry ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*EntryRecord
	for rows.Next() {
		rec := &EntryRecord{}
		var ts string
		if err := rows.Scan(&rec.Version, &rec.Algorithm, &rec.Artifact, &rec.Threshold,
			&rec.Accuracy, &rec.Precision, &rec.Recall, &rec.F1, &rec.AUC,
			&rec.Seed, &rec.Schema, &rec.IsActive, &rec.IsProduction, &ts); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteEntry(ctx context.Context, version string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM model_registry WHERE version=?`, version)
	return err
}

// ─── A/B outcomes ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendOutcome(ctx context.Context, rec *OutcomeRecord) error {
	var label sql.NullInt64
	if rec.ActualLabel != nil {
		label = sql.NullInt64{Int64: int64(*rec.ActualLabel), Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO ab_outcomes(test_id, version, prediction, actual_label, confidence, timestamp)
        VALUES(?,?,?,?,?,?)
    `,
		rec.TestID, rec.Version, rec.Prediction, label, rec.Confidence, rec.Timestamp.UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	rec.ID = id
	return nil
}

func (s *sqliteStore) QueryOutcomes(ctx context.Context, testID string, limit int) ([]*OutcomeRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, version, prediction, actual_label, confidence, timestamp
         FROM ab_outcomes WHERE test_id=? ORDER BY timestamp ASC LIMIT ?`,
		testID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*OutcomeRecord
	for rows.Next() {
		rec := &OutcomeRecord{}
		var label sql.NullInt64
		var ts string
		if err := rows.Scan(&rec.ID, &rec.TestID, &rec.Version, &rec.Prediction, &label, &rec.Confidence, &ts); err != nil {
			return nil, err
		}
		if label.Valid {
			v := int(label.Int64)
			rec.ActualLabel = &v
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
