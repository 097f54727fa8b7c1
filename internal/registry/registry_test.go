package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/db"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
)

func trainedArtifact(t *testing.T, seed int64) ScorerArtifact {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	samples := make([]ml.FeatureVector, 100)
	for i := range samples {
		samples[i] = ml.FeatureVector{rng.NormFloat64(), rng.NormFloat64()}
	}
	forest, err := ml.Train(samples, 10, 32, seed)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	return ScorerArtifact{Algorithm: AlgorithmIsolationForest, Forest: forest}
}

func metaFor(version string) Metadata {
	return Metadata{
		Version:   version,
		Algorithm: AlgorithmIsolationForest,
		Threshold: 0.6,
		Schema:    ml.NewSchema("x", "y"),
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor("v1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	artifact, meta, err := reg.Get("v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if artifact.Forest == nil {
		t.Fatal("artifact lost its forest")
	}
	if meta.Version != "v1" || meta.Threshold != 0.6 {
		t.Errorf("metadata mismatch: %+v", meta)
	}
	if meta.IsActive || meta.IsProduction {
		t.Error("fresh registration must start with lifecycle flags cleared")
	}
	if meta.CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted")
	}

	if _, _, err := reg.Get("missing"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("missing version: got %v, want ErrModelNotFound", err)
	}
	if !reg.Has("v1") || reg.Has("missing") {
		t.Error("Has gave wrong answers")
	}
}

func TestRegisterRejectsDuplicateVersion(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor("v1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(ctx, trainedArtifact(t, 2), metaFor("v1")); !errors.Is(err, ErrDuplicateVersion) {
		t.Errorf("duplicate version: got %v, want ErrDuplicateVersion", err)
	}
}

func TestPromoteInvariants(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2", "v3"} {
		if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor(v)); err != nil {
			t.Fatalf("Register %s: %v", v, err)
		}
	}

	if _, _, err := reg.GetActive(); !errors.Is(err, ErrNoActiveModel) {
		t.Errorf("no active yet: got %v", err)
	}
	if _, _, err := reg.GetProduction(); !errors.Is(err, ErrNoProductionModel) {
		t.Errorf("no production yet: got %v", err)
	}

	if err := reg.Promote(ctx, "v1", false); err != nil {
		t.Fatalf("Promote v1 active: %v", err)
	}
	if _, meta, _ := reg.GetActive(); meta.Version != "v1" {
		t.Errorf("active = %s, want v1", meta.Version)
	}

	// Promoting another version to active displaces the first.
	if err := reg.Promote(ctx, "v2", false); err != nil {
		t.Fatalf("Promote v2 active: %v", err)
	}
	if _, meta, _ := reg.GetActive(); meta.Version != "v2" {
		t.Errorf("active = %s, want v2", meta.Version)
	}
	if _, meta, _ := reg.Get("v1"); meta.IsActive {
		t.Error("v1 still flagged active after v2 promotion")
	}

	// Production promotion also takes the active slot.
	if err := reg.Promote(ctx, "v3", true); err != nil {
		t.Fatalf("Promote v3 production: %v", err)
	}
	if _, meta, _ := reg.GetProduction(); meta.Version != "v3" {
		t.Errorf("production = %s, want v3", meta.Version)
	}
	if _, meta, _ := reg.GetActive(); meta.Version != "v3" {
		t.Errorf("active = %s, want v3 after production promotion", meta.Version)
	}

	active, production := 0, 0
	for _, meta := range reg.List() {
		if meta.IsActive {
			active++
		}
		if meta.IsProduction {
			production++
		}
	}
	if active != 1 || production != 1 {
		t.Errorf("invariant broken: %d active, %d production", active, production)
	}

	if err := reg.Promote(ctx, "nope", false); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("unknown promote: got %v, want ErrModelNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"v1", "v2", "v3"} {
		meta := metaFor(v)
		meta.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := reg.Register(ctx, trainedArtifact(t, 1), meta); err != nil {
			t.Fatalf("Register %s: %v", v, err)
		}
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d entries", len(list))
	}
	if list[0].Version != "v3" || list[2].Version != "v1" {
		t.Errorf("list not newest-first: %s, %s, %s", list[0].Version, list[1].Version, list[2].Version)
	}
}

// failingStore accepts entries until armed, then fails every save. With
// failVersion set, only saves of that version fail.
type failingStore struct {
	mu          sync.Mutex
	fail        bool
	failVersion string
	saved       map[string]Entry
}

func newFailingStore() *failingStore {
	return &failingStore{saved: make(map[string]Entry)}
}

func (s *failingStore) SaveEntry(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || (s.failVersion != "" && e.Meta.Version == s.failVersion) {
		return fmt.Errorf("disk full")
	}
	s.saved[e.Meta.Version] = e
	return nil
}

func (s *failingStore) DeleteEntry(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("disk full")
	}
	delete(s.saved, version)
	return nil
}

func (s *failingStore) productionVersions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for v, e := range s.saved {
		if e.Meta.IsProduction {
			out = append(out, v)
		}
	}
	return out
}

func (s *failingStore) LoadAll(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.saved))
	for _, e := range s.saved {
		out = append(out, e)
	}
	return out, nil
}

func TestPromoteRollsBackOnPersistFailure(t *testing.T) {
	store := newFailingStore()
	reg := New(store, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor("v1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(ctx, trainedArtifact(t, 2), metaFor("v2")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Promote(ctx, "v1", false); err != nil {
		t.Fatalf("Promote v1: %v", err)
	}

	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()

	if err := reg.Promote(ctx, "v2", false); err == nil {
		t.Fatal("Promote should fail when the store fails")
	}

	// The failed promotion must leave v1 active.
	_, meta, err := reg.GetActive()
	if err != nil {
		t.Fatalf("GetActive after rollback: %v", err)
	}
	if meta.Version != "v1" {
		t.Errorf("active = %s after rollback, want v1", meta.Version)
	}
	if _, meta, _ := reg.Get("v2"); meta.IsActive {
		t.Error("v2 flagged active despite failed persist")
	}
}

func TestFailedPromotionKeepsStoreSingleProduction(t *testing.T) {
	store := newFailingStore()
	reg := New(store, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor("v1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(ctx, trainedArtifact(t, 2), metaFor("v2")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Promote(ctx, "v1", true); err != nil {
		t.Fatalf("Promote v1: %v", err)
	}

	// The v1 demotion persists, then the v2 promotion write fails.
	store.mu.Lock()
	store.failVersion = "v2"
	store.mu.Unlock()

	if err := reg.Promote(ctx, "v2", true); err == nil {
		t.Fatal("Promote should fail when the store fails")
	}

	if got := store.productionVersions(); len(got) != 1 || got[0] != "v1" {
		t.Fatalf("store production entries after failed promote = %v, want [v1]", got)
	}

	// A restart over the same store still sees exactly one production model.
	store.mu.Lock()
	store.failVersion = ""
	store.mu.Unlock()
	reg2 := New(store, nil)
	if err := reg2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, meta, err := reg2.GetProduction()
	if err != nil {
		t.Fatalf("GetProduction after reload: %v", err)
	}
	if meta.Version != "v1" {
		t.Errorf("production after reload = %s, want v1", meta.Version)
	}
}

func TestLoadClearsDuplicateLifecycleFlags(t *testing.T) {
	store := newFailingStore()
	older := metaFor("v1")
	older.CreatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	older.IsActive, older.IsProduction = true, true
	newer := metaFor("v2")
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	newer.IsActive, newer.IsProduction = true, true
	store.saved["v1"] = Entry{Artifact: trainedArtifact(t, 1), Meta: older}
	store.saved["v2"] = Entry{Artifact: trainedArtifact(t, 2), Meta: newer}

	reg := New(store, nil)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, meta, err := reg.GetProduction()
	if err != nil {
		t.Fatalf("GetProduction: %v", err)
	}
	if meta.Version != "v2" {
		t.Errorf("kept %s as production, want newest v2", meta.Version)
	}
	active, production := 0, 0
	for _, m := range reg.List() {
		if m.IsActive {
			active++
		}
		if m.IsProduction {
			production++
		}
	}
	if active != 1 || production != 1 {
		t.Errorf("duplicate flags survived load: %d active, %d production", active, production)
	}
}

func TestDeleteRefusesServingModels(t *testing.T) {
	store := newFailingStore()
	reg := New(store, nil)
	ctx := context.Background()

	if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor("v1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(ctx, trainedArtifact(t, 2), metaFor("v2")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Promote(ctx, "v1", true); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	if err := reg.Delete(ctx, "v1"); !errors.Is(err, ErrModelInUse) {
		t.Errorf("deleting production model: got %v, want ErrModelInUse", err)
	}
	if err := reg.Delete(ctx, "ghost"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("deleting unknown model: got %v, want ErrModelNotFound", err)
	}

	if err := reg.Delete(ctx, "v2"); err != nil {
		t.Fatalf("Delete v2: %v", err)
	}
	if reg.Has("v2") {
		t.Error("deleted version still registered")
	}
	store.mu.Lock()
	_, inStore := store.saved["v2"]
	store.mu.Unlock()
	if inStore {
		t.Error("deleted version still in store")
	}
}

func TestRegisterFailedPersistLeavesNoEntry(t *testing.T) {
	store := newFailingStore()
	store.fail = true
	reg := New(store, nil)

	if err := reg.Register(context.Background(), trainedArtifact(t, 1), metaFor("v1")); err == nil {
		t.Fatal("Register should fail when the store fails")
	}
	if reg.Has("v1") {
		t.Error("failed registration left an entry behind")
	}
}

func TestConcurrentReadsDuringPromotion(t *testing.T) {
	reg := New(nil, nil)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2"} {
		if err := reg.Register(ctx, trainedArtifact(t, 1), metaFor(v)); err != nil {
			t.Fatalf("Register %s: %v", v, err)
		}
	}
	if err := reg.Promote(ctx, "v1", true); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errCh := make(chan string, 64)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// A reader must always observe exactly one production model.
				if _, _, err := reg.GetProduction(); err != nil {
					select {
					case errCh <- err.Error():
					default:
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		target := "v1"
		if i%2 == 1 {
			target = "v2"
		}
		if err := reg.Promote(ctx, target, true); err != nil {
			t.Fatalf("Promote %s: %v", target, err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-errCh:
		t.Errorf("reader observed missing production model mid-promotion: %s", msg)
	default:
	}
}

// memoryRecordStore is an in-memory db.RegistryStore for adapter tests.
type memoryRecordStore struct {
	mu      sync.Mutex
	records []*db.EntryRecord
}

func (m *memoryRecordStore) SaveEntry(ctx context.Context, rec *db.EntryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.Version == rec.Version {
			m.records[i] = rec
			return nil
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryRecordStore) LoadAllEntries(ctx context.Context) ([]*db.EntryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*db.EntryRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memoryRecordStore) DeleteEntry(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.Version == version {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func TestSQLStoreRoundTrip(t *testing.T) {
	mem := &memoryRecordStore{}
	store := NewSQLStore(mem)
	ctx := context.Background()

	artifact := trainedArtifact(t, 5)
	meta := metaFor("v9")
	meta.CreatedAt = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	meta.Accuracy, meta.AUC, meta.Seed = 0.97, 0.99, 5

	if err := store.SaveEntry(ctx, Entry{Artifact: artifact, Meta: meta}); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	entries, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("LoadAll returned %d entries", len(entries))
	}

	got := entries[0]
	if got.Meta.Version != "v9" || got.Meta.Accuracy != 0.97 || got.Meta.Seed != 5 {
		t.Errorf("metadata round trip mismatch: %+v", got.Meta)
	}
	if got.Meta.Schema.Len() != 2 || got.Meta.Schema.Fields[0] != "x" {
		t.Errorf("schema round trip mismatch: %+v", got.Meta.Schema)
	}

	sample := ml.FeatureVector{0.3, -0.2}
	if a, b := artifact.Forest.Score(sample), got.Artifact.Forest.Score(sample); a != b {
		t.Errorf("restored forest scores differently: %v vs %v", b, a)
	}
}
