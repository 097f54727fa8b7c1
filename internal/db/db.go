package db

import (
	"context"
	"time"
)

// Store is the main persistence interface for the prediction platform.
type Store interface {
	RegistryStore
	OutcomeStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Registry store ──────────────────────────────────────────────────────────

// EntryRecord is the DB representation of a registered model version. The
// trained artifact travels as an opaque gob blob; the metadata columns are
// queryable.
type EntryRecord struct {
	Version      string    `json:"version"`
	Algorithm    string    `json:"algorithm"`
	Artifact     []byte    `json:"-"` // gob-encoded scorer
	Threshold    float64   `json:"threshold"`
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1_score"`
	AUC          float64   `json:"auc"`
	Seed         int64     `json:"seed"`
	Schema       string    `json:"schema"` // JSON array of feature names
	IsActive     bool      `json:"is_active"`
	IsProduction bool      `json:"is_production"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegistryStore persists model registry entries across restarts. SaveEntry is
// atomic at entry granularity: a concurrent LoadAllEntries sees the entry
// either fully written or not at all.
type RegistryStore interface {
	// SaveEntry creates or updates a registry entry.
	SaveEntry(ctx context.Context, rec *EntryRecord) error

	// LoadAllEntries returns every persisted entry.
	LoadAllEntries(ctx context.Context) ([]*EntryRecord, error)

	// DeleteEntry removes an entry by version.
	DeleteEntry(ctx context.Context, version string) error
}

// ─── A/B outcome store ───────────────────────────────────────────────────────

// OutcomeRecord is a persisted A/B test outcome. ActualLabel is nil until
// ground truth arrives.
type OutcomeRecord struct {
	ID          int64     `json:"id"`
	TestID      string    `json:"test_id"`
	Version     string    `json:"version"`
	Prediction  int       `json:"prediction"`
	ActualLabel *int      `json:"actual_label,omitempty"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutcomeStore persists append-only A/B test outcomes.
type OutcomeStore interface {
	// AppendOutcome stores a single outcome.
	AppendOutcome(ctx context.Context, rec *OutcomeRecord) error

	// QueryOutcomes returns outcomes for a test, oldest first.
	QueryOutcomes(ctx context.Context, testID string, limit int) ([]*OutcomeRecord, error)
}
