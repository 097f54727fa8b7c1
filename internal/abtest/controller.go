package abtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/metrics"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/ml"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/registry"
)

var (
	// ErrDuplicateTestID is returned when a test ID was already used, even by
	// a test that has since stopped or expired.
	ErrDuplicateTestID = errors.New("test id already used")

	// ErrUnknownTest is returned for operations on a test ID that was never started.
	ErrUnknownTest = errors.New("unknown test id")

	// ErrInvalidSplit is returned when the traffic split is outside (0, 1).
	ErrInvalidSplit = errors.New("traffic split must be in (0, 1)")

	// ErrTestNotRunning is returned when assigning traffic to a stopped or
	// expired test.
	ErrTestNotRunning = errors.New("test is not running")
)

// Status is the lifecycle state of an A/B test.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusExpired Status = "expired"
)

// Test is the immutable configuration plus lifecycle state of one A/B test.
// Split is the fraction of traffic routed to VersionA.
type Test struct {
	ID        string        `json:"id"`
	VersionA  string        `json:"version_a"`
	VersionB  string        `json:"version_b"`
	Split     float64       `json:"split"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Status    Status        `json:"status"`
}

// Outcome is one recorded prediction under a test arm. ActualLabel stays nil
// until ground truth arrives; only labeled outcomes count toward metrics.
type Outcome struct {
	Version     string    `json:"version"`
	Prediction  int       `json:"prediction"`
	ActualLabel *int      `json:"actual_label,omitempty"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// ArmMetrics summarizes one arm of a test.
type ArmMetrics struct {
	Version string               `json:"version"`
	Samples int                  `json:"samples"`
	Labeled int                  `json:"labeled"`
	Metrics ml.EvaluationMetrics `json:"metrics"`
}

// TestMetrics is the per-arm evaluation snapshot for a test.
type TestMetrics struct {
	TestID string     `json:"test_id"`
	Status Status     `json:"status"`
	A      ArmMetrics `json:"a"`
	B      ArmMetrics `json:"b"`
}

// VersionChecker reports whether a model version exists. Satisfied by the
// model registry.
type VersionChecker interface {
	Has(version string) bool
}

// OutcomeSink persists outcomes as they are recorded. May be nil.
type OutcomeSink interface {
	AppendOutcome(ctx context.Context, testID string, o Outcome) error
}

// testState holds one test plus its traffic RNG and outcome log. rand.Rand is
// not safe for concurrent use, so the RNG gets its own mutex; outcomes get a
// separate one so recording never blocks traffic assignment.
type testState struct {
	info Test

	rngMu sync.Mutex
	rng   *rand.Rand

	outMu    sync.Mutex
	outcomes []Outcome
}

// expireLocked flips a running test to expired once its window has passed.
// Callers hold the controller mutex.
func (t *testState) expireLocked(now time.Time) {
	if t.info.Status == StatusRunning && now.After(t.info.ExpiresAt) {
		t.info.Status = StatusExpired
	}
}

// Controller manages concurrent A/B tests over registered model versions.
type Controller struct {
	mu       sync.Mutex
	tests    map[string]*testState
	versions VersionChecker
	sink     OutcomeSink
	log      *zap.Logger
	now      func() time.Time
}

// New creates a controller. sink may be nil to keep outcomes in memory only.
func New(versions VersionChecker, sink OutcomeSink, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		tests:    make(map[string]*testState),
		versions: versions,
		sink:     sink,
		log:      log,
		now:      time.Now,
	}
}

// StartTest begins routing traffic between two registered versions. A test ID
// is single-use: once started it can never be reused, even after the test
// stops. seed 0 means derive one from the clock.
func (c *Controller) StartTest(id, versionA, versionB string, split float64, duration time.Duration, seed int64) (Test, error) {
	if split <= 0 || split >= 1 {
		return Test{}, fmt.Errorf("%w: %v", ErrInvalidSplit, split)
	}
	for _, v := range []string{versionA, versionB} {
		if !c.versions.Has(v) {
			return Test{}, fmt.Errorf("%w: %s", registry.ErrModelNotFound, v)
		}
	}
	if seed == 0 {
		seed = c.now().UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, used := c.tests[id]; used {
		return Test{}, fmt.Errorf("%w: %s", ErrDuplicateTestID, id)
	}

	started := c.now().UTC()
	t := &testState{
		info: Test{
			ID:        id,
			VersionA:  versionA,
			VersionB:  versionB,
			Split:     split,
			Duration:  duration,
			StartedAt: started,
			ExpiresAt: started.Add(duration),
			Status:    StatusRunning,
		},
		rng: rand.New(rand.NewSource(seed)),
	}
	c.tests[id] = t

	c.log.Info("ab test started",
		zap.String("test_id", id),
		zap.String("version_a", versionA),
		zap.String("version_b", versionB),
		zap.Float64("split", split),
		zap.Duration("duration", duration),
	)
	return t.info, nil
}

// AssignVersion draws a version for one request. Expiry is checked lazily at
// assignment time; a test past its window rejects traffic from then on.
func (c *Controller) AssignVersion(id string) (string, error) {
	c.mu.Lock()
	t, ok := c.tests[id]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	t.expireLocked(c.now())
	if t.info.Status != StatusRunning {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s (%s)", ErrTestNotRunning, id, t.info.Status)
	}
	c.mu.Unlock()

	t.rngMu.Lock()
	draw := t.rng.Float64()
	t.rngMu.Unlock()

	version := t.info.VersionB
	if draw < t.info.Split {
		version = t.info.VersionA
	}
	metrics.ABAssignments.WithLabelValues(id, version).Inc()
	return version, nil
}

// RecordOutcome appends an outcome to the test's log. The in-memory append
// always succeeds for a known test; sink failures are logged, not returned,
// so a slow database cannot drop live telemetry on the floor.
func (c *Controller) RecordOutcome(ctx context.Context, id string, o Outcome) error {
	c.mu.Lock()
	t, ok := c.tests[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = c.now().UTC()
	}

	t.outMu.Lock()
	t.outcomes = append(t.outcomes, o)
	t.outMu.Unlock()

	metrics.ABOutcomes.WithLabelValues(id).Inc()
	if c.sink != nil {
		if err := c.sink.AppendOutcome(ctx, id, o); err != nil {
			c.log.Warn("persist ab outcome failed",
				zap.String("test_id", id), zap.Error(err))
		}
	}
	return nil
}

// StopTest ends a running test. Stopping an expired or already stopped test
// is a no-op; metrics stay queryable either way.
func (c *Controller) StopTest(id string) (Test, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tests[id]
	if !ok {
		return Test{}, fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	t.expireLocked(c.now())
	if t.info.Status == StatusRunning {
		t.info.Status = StatusStopped
		c.log.Info("ab test stopped", zap.String("test_id", id))
	}
	return t.info, nil
}

// GetTest returns a test's current state.
func (c *Controller) GetTest(id string) (Test, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tests[id]
	if !ok {
		return Test{}, fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	t.expireLocked(c.now())
	return t.info, nil
}

// ListTests returns all tests, newest first.
func (c *Controller) ListTests() []Test {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]Test, 0, len(c.tests))
	for _, t := range c.tests {
		t.expireLocked(now)
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ComputeMetrics evaluates both arms over labeled outcomes only.
func (c *Controller) ComputeMetrics(id string) (TestMetrics, error) {
	c.mu.Lock()
	t, ok := c.tests[id]
	if !ok {
		c.mu.Unlock()
		return TestMetrics{}, fmt.Errorf("%w: %s", ErrUnknownTest, id)
	}
	t.expireLocked(c.now())
	info := t.info
	c.mu.Unlock()

	t.outMu.Lock()
	outcomes := make([]Outcome, len(t.outcomes))
	copy(outcomes, t.outcomes)
	t.outMu.Unlock()

	result := TestMetrics{
		TestID: id,
		Status: info.Status,
		A:      armMetrics(info.VersionA, outcomes),
		B:      armMetrics(info.VersionB, outcomes),
	}
	return result, nil
}

func armMetrics(version string, outcomes []Outcome) ArmMetrics {
	var tp, fp, tn, fn, samples, labeled int
	for _, o := range outcomes {
		if o.Version != version {
			continue
		}
		samples++
		if o.ActualLabel == nil {
			continue
		}
		labeled++
		switch {
		case o.Prediction == 1 && *o.ActualLabel == 1:
			tp++
		case o.Prediction == 1 && *o.ActualLabel == 0:
			fp++
		case o.Prediction == 0 && *o.ActualLabel == 0:
			tn++
		default:
			fn++
		}
	}
	return ArmMetrics{
		Version: version,
		Samples: samples,
		Labeled: labeled,
		Metrics: ml.MetricsFromCounts(tp, fp, tn, fn),
	}
}
