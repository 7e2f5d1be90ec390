package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogScan logs scan lifecycle events
	LogScanStarted(ctx context.Context, runID, scanType string) error
	LogScanCompleted(ctx context.Context, runID, scanType, summary string, duration time.Duration) error
	LogScanFailed(ctx context.Context, runID, scanType string, err error) error
	LogScanRejected(ctx context.Context, scanType string) error

	// LogAlertTransition logs an alert lifecycle transition
	LogAlertTransition(ctx context.Context, alertID, from, to, actor string) error

	// App returns the application logger for structured operational logging.
	App() *zap.Logger

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit logger with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// App returns the application logger.
func (l *auditLogger) App() *zap.Logger {
	return l.appLogger
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

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
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
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

// LogScanStarted logs when a scan starts
func (l *auditLogger) LogScanStarted(ctx context.Context, runID, scanType string) error {
	event := NewEvent(EventScanStarted).
		WithCorrelationID(runID).
		WithScanType(scanType).
		WithDescription(fmt.Sprintf("Scan %s (%s) started", runID, scanType))

	return l.Log(ctx, event)
}

// LogScanCompleted logs when a scan completes
func (l *auditLogger) LogScanCompleted(ctx context.Context, runID, scanType, summary string, duration time.Duration) error {
	event := NewEvent(EventScanCompleted).
		WithCorrelationID(runID).
		WithScanType(scanType).
		WithDuration(duration).
		WithDescription(summary)

	return l.Log(ctx, event)
}

// LogScanFailed logs when a scan fails
func (l *auditLogger) LogScanFailed(ctx context.Context, runID, scanType string, err error) error {
	event := NewEvent(EventScanFailed).
		WithCorrelationID(runID).
		WithScanType(scanType).
		WithError(err).
		WithDescription(fmt.Sprintf("Scan %s (%s) failed", runID, scanType))

	return l.Log(ctx, event)
}

// LogScanRejected logs a manual trigger rejected because the type was running
func (l *auditLogger) LogScanRejected(ctx context.Context, scanType string) error {
	event := NewEvent(EventScanRejected).
		WithScanType(scanType).
		WithResult(ResultDenied).
		WithDescription(fmt.Sprintf("Manual %s scan rejected: already running", scanType))

	return l.Log(ctx, event)
}

// LogAlertTransition logs an alert lifecycle transition
func (l *auditLogger) LogAlertTransition(ctx context.Context, alertID, from, to, actor string) error {
	eventType := EventAlertInvestigated
	switch to {
	case "dismissed":
		eventType = EventAlertDismissed
	case "resolved":
		eventType = EventAlertResolved
	case "open":
		eventType = EventAlertOpened
	}

	event := NewEvent(eventType).
		WithCorrelationID(alertID).
		WithUser(actor).
		WithDescription(fmt.Sprintf("Alert %s: %s -> %s", alertID, from, to))

	return l.Log(ctx, event)
}

// Sync flushes buffered entries and the underlying cores
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	_ = l.flushLocked()
	l.mu.Unlock()

	_ = l.appLogger.Sync()
	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

// NewNopLogger returns a Logger that discards everything. For tests.
func NewNopLogger() Logger {
	return &auditLogger{
		appLogger:   zap.NewNop(),
		auditLogger: zap.NewNop(),
		config:      DefaultConfig(),
		buffer:      make([]*Event, 0, 8),
		flushTicker: time.NewTicker(time.Hour),
		stopCh:      make(chan struct{}),
	}
}
