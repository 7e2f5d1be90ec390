package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Scan events
	EventScanStarted     EventType = "scan.started"
	EventScanCompleted   EventType = "scan.completed"
	EventScanFailed      EventType = "scan.failed"
	EventScanInterrupted EventType = "scan.interrupted"
	EventScanRejected    EventType = "scan.rejected"

	// Alert lifecycle events
	EventAlertOpened       EventType = "alert.opened"
	EventAlertInvestigated EventType = "alert.investigating"
	EventAlertDismissed    EventType = "alert.dismissed"
	EventAlertResolved     EventType = "alert.resolved"

	// Query events
	EventQueryProcessed EventType = "query.processed"
	EventQueryFailed    EventType = "query.failed"

	// Configuration events
	EventConfigLoaded EventType = "config.loaded"
	EventConfigReload EventType = "config.reload"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	User string `json:"user,omitempty"`

	// Subject information
	MetricName string `json:"metric_name,omitempty"`
	ScopeID    string `json:"scope_id,omitempty"`
	ScanType   string `json:"scan_type,omitempty"`

	// Detail
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithUser sets the user who triggered the event
func (e *Event) WithUser(user string) *Event {
	e.User = user
	return e
}

// WithSubject sets the metric/scope the event concerns
func (e *Event) WithSubject(metricName, scopeID string) *Event {
	e.MetricName = metricName
	e.ScopeID = scopeID
	return e
}

// WithScanType sets the scan type for scan events
func (e *Event) WithScanType(scanType string) *Event {
	e.ScanType = scanType
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
