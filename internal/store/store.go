package store

import (
	"context"
	"errors"
	"time"
)

// Store is the main persistence interface for the analytics layer.
type Store interface {
	ObservationStore
	AlertStore
	HealthStore
	ForecastStore
	ScanRunStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ErrNonMonotonicTimestamp is returned when an observation is appended with a
// timestamp that does not strictly increase within its (metric, scope) series.
var ErrNonMonotonicTimestamp = errors.New("observation timestamp must strictly increase per series")

// ─── Observation store ───────────────────────────────────────────────────────

// Observation is one measured KPI value at a point in time, scoped to an
// entity (dealer, plant, or region). Rows are write-once.
type Observation struct {
	ID         int64     `json:"id"`
	MetricName string    `json:"metric_name"`
	ScopeID    string    `json:"scope_id"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
}

// SeriesKey identifies one tracked (metric, scope) timeseries.
type SeriesKey struct {
	MetricName string `json:"metric_name"`
	ScopeID    string `json:"scope_id"`
}

// ObservationStore persists append-only KPI observations.
type ObservationStore interface {
	// AppendObservation writes a single observation. The timestamp must be
	// strictly greater than the newest existing timestamp for the same
	// (metric_name, scope_id) pair; otherwise ErrNonMonotonicTimestamp.
	AppendObservation(ctx context.Context, obs *Observation) error

	// QueryRange returns observations for a series within [from, to],
	// oldest first.
	QueryRange(ctx context.Context, metricName, scopeID string, from, to time.Time) ([]*Observation, error)

	// LatestObservations returns up to limit of the newest observations for
	// a series, oldest first.
	LatestObservations(ctx context.Context, metricName, scopeID string, limit int) ([]*Observation, error)

	// ListSeries returns every distinct (metric_name, scope_id) pair with at
	// least one observation.
	ListSeries(ctx context.Context) ([]SeriesKey, error)
}

// ─── Alert store ─────────────────────────────────────────────────────────────

// Alert status values.
const (
	AlertStatusOpen          = "open"
	AlertStatusInvestigating = "investigating"
	AlertStatusDismissed     = "dismissed"
	AlertStatusResolved      = "resolved"
)

// Alert severity tiers.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// AlertRecord is a detected anomaly requiring human attention.
// dismissed_by is set only when status is dismissed.
type AlertRecord struct {
	ID                 string     `json:"id"`
	MetricName         string     `json:"metric_name"`
	ScopeID            string     `json:"scope_id"`
	Severity           string     `json:"severity"`
	Description        string     `json:"description"`
	DetectedAt         time.Time  `json:"detected_at"`
	WindowStart        time.Time  `json:"window_start"`
	Status             string     `json:"status"`
	InvestigationNotes string     `json:"investigation_notes,omitempty"`
	DismissedBy        string     `json:"dismissed_by,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// AlertQuery filters alert queries.
type AlertQuery struct {
	MetricName string
	ScopeID    string
	Status     string
	Severity   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// AlertStore persists the alert lifecycle.
type AlertStore interface {
	// InsertAlert stores a new alert.
	InsertAlert(ctx context.Context, rec *AlertRecord) error

	// GetAlert retrieves a single alert by ID.
	GetAlert(ctx context.Context, id string) (*AlertRecord, error)

	// FindOpenAlert returns an existing open alert for the same
	// (metric_name, scope_id, window_start), or nil, nil when none exists.
	// The detector uses this to keep scan reruns idempotent.
	FindOpenAlert(ctx context.Context, metricName, scopeID string, windowStart time.Time) (*AlertRecord, error)

	// QueryAlerts retrieves alerts with optional filters, newest first.
	QueryAlerts(ctx context.Context, q AlertQuery) ([]*AlertRecord, error)

	// UpdateAlert persists status, notes, dismissed_by, and resolved_at.
	UpdateAlert(ctx context.Context, rec *AlertRecord) error

	// CountAlertsByStatus returns alert counts grouped by status.
	CountAlertsByStatus(ctx context.Context) (map[string]int, error)
}

// ─── Health store ────────────────────────────────────────────────────────────

// HealthScoreRecord is one composite health score for a scope.
// Breakdown holds the per-metric weighted contributions as a JSON blob;
// the weights used always sum to 1.0 after renormalization.
type HealthScoreRecord struct {
	ID       int64     `json:"id"`
	ScopeID  string    `json:"scope_id"`
	Score    float64   `json:"score"`
	ScanTime time.Time `json:"scan_time"`
	Breakdown string   `json:"breakdown"` // JSON blob
}

// HealthStore persists health scan output.
type HealthStore interface {
	// AppendHealthScore stores a computed health score.
	AppendHealthScore(ctx context.Context, rec *HealthScoreRecord) error

	// LatestHealthScore returns the newest score for a scope, or nil, nil.
	LatestHealthScore(ctx context.Context, scopeID string) (*HealthScoreRecord, error)

	// QueryHealthScores returns scores for a scope within a window, newest first.
	QueryHealthScores(ctx context.Context, scopeID string, from, to time.Time, limit int) ([]*HealthScoreRecord, error)
}

// ─── Forecast store ──────────────────────────────────────────────────────────

// ForecastRecord is a persisted short-horizon projection.
// ConfidenceLow <= Predicted <= ConfidenceHigh always holds.
type ForecastRecord struct {
	ID             int64     `json:"id"`
	MetricName     string    `json:"metric_name"`
	ScopeID        string    `json:"scope_id"`
	Horizon        string    `json:"horizon"`
	Predicted      float64   `json:"predicted_value"`
	ConfidenceLow  float64   `json:"confidence_low"`
	ConfidenceHigh float64   `json:"confidence_high"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// ForecastStore persists forecast rows.
type ForecastStore interface {
	// AppendForecast stores a generated forecast.
	AppendForecast(ctx context.Context, rec *ForecastRecord) error

	// LatestForecast returns the newest forecast for a series, or nil, nil.
	LatestForecast(ctx context.Context, metricName, scopeID string) (*ForecastRecord, error)

	// QueryForecasts returns forecasts for a series, newest first.
	QueryForecasts(ctx context.Context, metricName, scopeID string, limit int) ([]*ForecastRecord, error)
}

// ─── Scan run store ──────────────────────────────────────────────────────────

// Scan types.
const (
	ScanTypeHourly  = "hourly"
	ScanTypeDaily   = "daily"
	ScanTypeWeekly  = "weekly"
	ScanTypeMonthly = "monthly"
	ScanTypeManual  = "manual"
)

// ScanRunRecord is the record of one scheduler execution.
// FinishedAt is nil while the run is in flight; Error is empty on success.
type ScanRunRecord struct {
	ID            string     `json:"id"`
	ScanType      string     `json:"scan_type"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ResultSummary string     `json:"result_summary"`
	Error         string     `json:"error,omitempty"`
}

// ScanRunStore persists scheduler execution history.
type ScanRunStore interface {
	// InsertScanRun records the start of a scan.
	InsertScanRun(ctx context.Context, rec *ScanRunRecord) error

	// FinishScanRun records completion. errMsg is empty on success.
	FinishScanRun(ctx context.Context, id string, finishedAt time.Time, summary, errMsg string) error

	// LastSuccessfulRun returns the newest completed run without an error
	// for a scan type, or nil, nil when the type has never succeeded.
	LastSuccessfulRun(ctx context.Context, scanType string) (*ScanRunRecord, error)

	// ListScanRuns returns runs for a scan type, newest first. An empty
	// scanType returns runs for all types.
	ListScanRuns(ctx context.Context, scanType string, limit int) ([]*ScanRunRecord, error)

	// RecoverInterruptedRuns marks any run still unfinished as interrupted.
	// Called once on startup so a crash never leaves a run permanently
	// "running". Returns the number of runs recovered.
	RecoverInterruptedRuns(ctx context.Context) (int, error)
}
