package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogModelRegistered logs a new model version entering the registry
	LogModelRegistered(ctx context.Context, version string) error

	// LogModelPromoted logs an active or production promotion
	LogModelPromoted(ctx context.Context, version string, toProduction bool) error

	// LogTraining logs training lifecycle events
	LogTrainingCompleted(ctx context.Context, version string, duration time.Duration) error
	LogTrainingFailed(ctx context.Context, err error) error

	// LogTest logs A/B test lifecycle events
	LogTestStarted(ctx context.Context, testID, versionA, versionB string) error
	LogTestStopped(ctx context.Context, testID string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	audit       *zap.Logger
	app         *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. app receives operational errors from
// the audit path itself; nil means discard them.
func NewLogger(config *Config, app *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if app == nil {
		app = zap.NewNop()
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	// Audit trail is append-only with rotation, always INFO level.
	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		audit:       zap.New(core),
		app:         app,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.app.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.audit.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogModelRegistered logs a new model version entering the registry
func (l *auditLogger) LogModelRegistered(ctx context.Context, version string) error {
	event := NewEvent(EventModelRegistered).
		WithModelVersion(version).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Model %s registered", version))

	return l.Log(ctx, event)
}

// LogModelPromoted logs an active or production promotion
func (l *auditLogger) LogModelPromoted(ctx context.Context, version string, toProduction bool) error {
	target := "active"
	if toProduction {
		target = "production"
	}
	event := NewEvent(EventModelPromoted).
		WithModelVersion(version).
		WithResult(ResultSuccess).
		WithMetadata("target", target).
		WithDescription(fmt.Sprintf("Model %s promoted to %s", version, target))

	return l.Log(ctx, event)
}

// LogTrainingCompleted logs a successful training run
func (l *auditLogger) LogTrainingCompleted(ctx context.Context, version string, duration time.Duration) error {
	event := NewEvent(EventTrainingCompleted).
		WithModelVersion(version).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Training produced model %s", version))

	return l.Log(ctx, event)
}

// LogTrainingFailed logs a failed training run
func (l *auditLogger) LogTrainingFailed(ctx context.Context, err error) error {
	event := NewEvent(EventTrainingFailed).
		WithError(err).
		WithDescription("Training run failed")

	return l.Log(ctx, event)
}

// LogTestStarted logs the start of an A/B test
func (l *auditLogger) LogTestStarted(ctx context.Context, testID, versionA, versionB string) error {
	event := NewEvent(EventTestStarted).
		WithTestID(testID).
		WithResult(ResultSuccess).
		WithMetadata("version_a", versionA).
		WithMetadata("version_b", versionB).
		WithDescription(fmt.Sprintf("Test %s started (%s vs %s)", testID, versionA, versionB))

	return l.Log(ctx, event)
}

// LogTestStopped logs the stop of an A/B test
func (l *auditLogger) LogTestStopped(ctx context.Context, testID string) error {
	event := NewEvent(EventTestStopped).
		WithTestID(testID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Test %s stopped", testID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.audit.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
