package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Model lifecycle events
	EventModelRegistered EventType = "model.registered"
	EventModelPromoted   EventType = "model.promoted"
	EventModelRollback   EventType = "model.rollback"
	EventModelDeleted    EventType = "model.deleted"

	// Training events
	EventTrainingStarted   EventType = "training.started"
	EventTrainingCompleted EventType = "training.completed"
	EventTrainingFailed    EventType = "training.failed"

	// A/B test events
	EventTestStarted EventType = "abtest.started"
	EventTestStopped EventType = "abtest.stopped"
	EventTestExpired EventType = "abtest.expired"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventConfigLoaded   EventType = "system.config_loaded"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Subject information
	ModelVersion string `json:"model_version,omitempty"`
	TestID       string `json:"test_id,omitempty"`

	// Action details
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error string `json:"error,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithModelVersion sets the model version being acted upon
func (e *Event) WithModelVersion(version string) *Event {
	e.ModelVersion = version
	return e
}

// WithTestID sets the A/B test being acted upon
func (e *Event) WithTestID(id string) *Event {
	e.TestID = id
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
