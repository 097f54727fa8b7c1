package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/db"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
)

// sqlStore adapts the database layer to the registry's Store contract,
// serializing the trained artifact as an opaque blob.
type sqlStore struct {
	backend db.RegistryStore
}

// NewSQLStore wraps a db.RegistryStore as a registry Store.
func NewSQLStore(backend db.RegistryStore) Store {
	return &sqlStore{backend: backend}
}

func (s *sqlStore) SaveEntry(ctx context.Context, e Entry) error {
	if e.Artifact.Forest == nil {
		return fmt.Errorf("entry %s has no trained artifact", e.Meta.Version)
	}
	blob, err := e.Artifact.Forest.Encode()
	if err != nil {
		return fmt.Errorf("serialize artifact %s: %w", e.Meta.Version, err)
	}
	schema, err := json.Marshal(e.Meta.Schema.Fields)
	if err != nil {
		return fmt.Errorf("serialize schema %s: %w", e.Meta.Version, err)
	}
	return s.backend.SaveEntry(ctx, &db.EntryRecord{
		Version:      e.Meta.Version,
		Algorithm:    e.Meta.Algorithm,
		Artifact:     blob,
		Threshold:    e.Meta.Threshold,
		Accuracy:     e.Meta.Accuracy,
		Precision:    e.Meta.Precision,
		Recall:       e.Meta.Recall,
		F1:           e.Meta.F1,
		AUC:          e.Meta.AUC,
		Seed:         e.Meta.Seed,
		Schema:       string(schema),
		IsActive:     e.Meta.IsActive,
		IsProduction: e.Meta.IsProduction,
		CreatedAt:    e.Meta.CreatedAt,
	})
}

func (s *sqlStore) DeleteEntry(ctx context.Context, version string) error {
	return s.backend.DeleteEntry(ctx, version)
}

func (s *sqlStore) LoadAll(ctx context.Context) ([]Entry, error) {
	records, err := s.backend.LoadAllEntries(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		forest, err := ml.DecodeForest(rec.Artifact)
		if err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", rec.Version, err)
		}
		var fields []string
		if err := json.Unmarshal([]byte(rec.Schema), &fields); err != nil {
			return nil, fmt.Errorf("decode schema %s: %w", rec.Version, err)
		}
		entries = append(entries, Entry{
			Artifact: ScorerArtifact{Algorithm: rec.Algorithm, Forest: forest},
			Meta: Metadata{
				Version:      rec.Version,
				Algorithm:    rec.Algorithm,
				CreatedAt:    rec.CreatedAt,
				Accuracy:     rec.Accuracy,
				Precision:    rec.Precision,
				Recall:       rec.Recall,
				F1:           rec.F1,
				AUC:          rec.AUC,
				Threshold:    rec.Threshold,
				Seed:         rec.Seed,
				Schema:       ml.NewSchema(fields...),
				IsActive:     rec.IsActive,
				IsProduction: rec.IsProduction,
			},
		})
	}
	return entries, nil
}
