package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/metrics"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
)

var (
	// ErrDuplicateVersion is returned when registering an already-known version.
	ErrDuplicateVersion = errors.New("model version already registered")

	// ErrModelNotFound is returned when a version is absent from the registry.
	ErrModelNotFound = errors.New("model version not found")

	// ErrNoActiveModel is returned when no entry has the active flag set.
	ErrNoActiveModel = errors.New("no active model")

	// ErrNoProductionModel is returned when no entry has the production flag set.
	ErrNoProductionModel = errors.New("no production model")

	// ErrModelInUse is returned when deleting a version that is still serving.
	ErrModelInUse = errors.New("model version is active or production")
)

// AlgorithmIsolationForest is the algorithm tag for isolation-ensemble models.
const AlgorithmIsolationForest = "isolation_forest"

// ScorerArtifact tags a trained payload with its algorithm so new model types
// can be added later without weakening the registry's type contract.
type ScorerArtifact struct {
	Algorithm string
	Forest    *ml.IsolationForest
}

// Metadata describes a registered model version. Everything except the two
// lifecycle flags is immutable after registration; the flags change only
// inside Promote's critical section.
type Metadata struct {
	Version      string
	Algorithm    string
	CreatedAt    time.Time
	Accuracy     float64
	Precision    float64
	Recall       float64
	F1           float64
	AUC          float64
	Threshold    float64
	Seed         int64
	Schema       ml.Schema
	IsActive     bool
	IsProduction bool
}

// Entry pairs an artifact with its metadata. Entries are owned exclusively by
// the registry and never handed out by pointer.
type Entry struct {
	Artifact ScorerArtifact
	Meta     Metadata
}

// Store is the persistence contract the registry needs from its durable
// backend. All calls are expected to be atomic at entry granularity.
type Store interface {
	SaveEntry(ctx context.Context, e Entry) error
	LoadAll(ctx context.Context) ([]Entry, error)
	DeleteEntry(ctx context.Context, version string) error
}

// Registry stores immutable versioned model artifacts and enforces the
// single-active / single-production invariants under one read-write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	store   Store // nil means in-memory only
	log     *zap.Logger
}

// New creates an empty registry. store may be nil for in-memory operation.
func New(store Store, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		store:   store,
		log:     log,
	}
}

// Load populates the registry from the store. Called once at startup, before
// the registry is shared.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	entries, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load registry entries: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		entry := e
		r.entries[e.Meta.Version] = &entry
	}
	r.sanitizeFlagsLocked()
	metrics.RegistryModels.Set(float64(len(r.entries)))
	r.log.Info("model registry loaded", zap.Int("models", len(r.entries)))
	return nil
}

// sanitizeFlagsLocked enforces the single-active and single-production
// invariants over loaded data. A crash between entry writes can leave the
// store with duplicate flags; the newest flagged entry wins.
func (r *Registry) sanitizeFlagsLocked() {
	newest := func(flagged func(*Entry) bool) *Entry {
		var best *Entry
		for _, e := range r.entries {
			if !flagged(e) {
				continue
			}
			if best == nil || e.Meta.CreatedAt.After(best.Meta.CreatedAt) {
				best = e
			}
		}
		return best
	}

	if best := newest(func(e *Entry) bool { return e.Meta.IsProduction }); best != nil {
		for _, e := range r.entries {
			if e != best && e.Meta.IsProduction {
				r.log.Warn("clearing duplicate production flag",
					zap.String("version", e.Meta.Version),
					zap.String("kept", best.Meta.Version))
				e.Meta.IsProduction = false
			}
		}
	}
	if best := newest(func(e *Entry) bool { return e.Meta.IsActive }); best != nil {
		for _, e := range r.entries {
			if e != best && e.Meta.IsActive {
				r.log.Warn("clearing duplicate active flag",
					zap.String("version", e.Meta.Version),
					zap.String("kept", best.Meta.Version))
				e.Meta.IsActive = false
			}
		}
	}
}

// Register adds a new versioned entry. The lifecycle flags always start
// cleared regardless of the caller's metadata. On any failure the registry
// state is unchanged; concurrent readers never observe a partial write.
func (r *Registry) Register(ctx context.Context, artifact ScorerArtifact, meta Metadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.IsActive = false
	meta.IsProduction = false

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[meta.Version]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVersion, meta.Version)
	}
	entry := &Entry{Artifact: artifact, Meta: meta}
	if r.store != nil {
		if err := r.store.SaveEntry(ctx, *entry); err != nil {
			return fmt.Errorf("persist entry %s: %w", meta.Version, err)
		}
	}
	r.entries[meta.Version] = entry

	metrics.ModelsRegistered.Inc()
	metrics.RegistryModels.Set(float64(len(r.entries)))
	r.log.Info("model registered",
		zap.String("version", meta.Version),
		zap.String("algorithm", meta.Algorithm),
		zap.Float64("threshold", meta.Threshold),
		zap.Float64("f1", meta.F1),
	)
	return nil
}

// Get returns the artifact and a metadata copy for a version.
func (r *Registry) Get(version string) (ScorerArtifact, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[version]
	if !ok {
		return ScorerArtifact{}, Metadata{}, fmt.Errorf("%w: %s", ErrModelNotFound, version)
	}
	return entry.Artifact, entry.Meta, nil
}

// Has reports whether a version is registered.
func (r *Registry) Has(version string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[version]
	return ok
}

// GetActive returns the single entry flagged active.
func (r *Registry) GetActive() (ScorerArtifact, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.Meta.IsActive {
			return entry.Artifact, entry.Meta, nil
		}
	}
	return ScorerArtifact{}, Metadata{}, ErrNoActiveModel
}

// GetProduction returns the single entry flagged production.
func (r *Registry) GetProduction() (ScorerArtifact, Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.Meta.IsProduction {
			return entry.Artifact, entry.Meta, nil
		}
	}
	return ScorerArtifact{}, Metadata{}, ErrNoProductionModel
}

// List returns metadata for all entries, newest first.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version > out[j].Version
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Promote flags a version as active, or as production (which also makes it
// active). The clear-and-set sequence runs in a single critical section, so a
// reader only ever observes the valid before or after state. A persistence
// failure rolls the in-memory transition back.
func (r *Registry) Promote(ctx context.Context, version string, toProduction bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.entries[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, version)
	}

	// Snapshot flags so a failed persist can restore them.
	prev := make(map[string][2]bool, len(r.entries))
	for v, entry := range r.entries {
		prev[v] = [2]bool{entry.Meta.IsActive, entry.Meta.IsProduction}
	}

	if toProduction {
		for _, entry := range r.entries {
			entry.Meta.IsProduction = false
			entry.Meta.IsActive = false
		}
		target.Meta.IsProduction = true
		target.Meta.IsActive = true
	} else {
		for _, entry := range r.entries {
			entry.Meta.IsActive = false
		}
		target.Meta.IsActive = true
	}

	if r.store != nil {
		// Demotions persist before the promoted entry so a failure part way
		// through can never leave two flagged entries in the store.
		changed := make([]*Entry, 0, len(r.entries))
		for v, entry := range r.entries {
			flags := prev[v]
			if entry == target || (flags[0] == entry.Meta.IsActive && flags[1] == entry.Meta.IsProduction) {
				continue
			}
			changed = append(changed, entry)
		}
		if f := prev[version]; f[0] != target.Meta.IsActive || f[1] != target.Meta.IsProduction {
			changed = append(changed, target)
		}

		saved := make([]*Entry, 0, len(changed))
		for _, entry := range changed {
			if err := r.store.SaveEntry(ctx, *entry); err != nil {
				for rv, rentry := range r.entries {
					rentry.Meta.IsActive = prev[rv][0]
					rentry.Meta.IsProduction = prev[rv][1]
				}
				// Undo the writes that already landed.
				for _, e := range saved {
					if rerr := r.store.SaveEntry(ctx, *e); rerr != nil {
						r.log.Warn("restore entry after failed promotion",
							zap.String("version", e.Meta.Version), zap.Error(rerr))
					}
				}
				return fmt.Errorf("persist promotion of %s: %w", version, err)
			}
			saved = append(saved, entry)
		}
	}

	label := "active"
	if toProduction {
		label = "production"
	}
	metrics.ModelPromotions.WithLabelValues(label).Inc()
	r.log.Info("model promoted",
		zap.String("version", version),
		zap.Bool("to_production", toProduction),
	)
	return nil
}

// Delete removes a version that is not currently serving. The entry is
// removed from the store first; on failure the registry is unchanged.
func (r *Registry) Delete(ctx context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, version)
	}
	if entry.Meta.IsActive || entry.Meta.IsProduction {
		return fmt.Errorf("%w: %s", ErrModelInUse, version)
	}
	if r.store != nil {
		if err := r.store.DeleteEntry(ctx, version); err != nil {
			return fmt.Errorf("delete entry %s: %w", version, err)
		}
	}
	delete(r.entries, version)

	metrics.RegistryModels.Set(float64(len(r.entries)))
	r.log.Info("model deleted", zap.String("version", version))
	return nil
}
