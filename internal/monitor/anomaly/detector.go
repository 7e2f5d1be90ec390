package anomaly

import (
	"context"
	"time"
)

// Package anomaly provides statistical outlier detection over recent metric
// windows.
//
// Detection method:
//   - Baseline: trailing mean and standard deviation over the reference
//     window, excluding the newest observation
//   - A point is flagged when its z-score against the baseline exceeds the
//     configured multiple of the spread, or when its relative deviation
//     crosses the absolute business threshold
//   - Severity is tiered on relative deviation: above the high tier -> high,
//     between the tiers -> medium, below -> low
//
// Idempotence: re-running a scan over unchanged data never creates duplicate
// open alerts. The detection window is identified by the newest observation's
// timestamp, and an existing open alert for the same (metric, scope, window)
// suppresses insertion.
//
// A flat, noise-free series is never flagged: zero spread with zero deviation
// produces no finding.

// Config holds detection policy. Exposed as configuration rather than
// hard-coded: the tiers are a default policy, not a contract.
type Config struct {
	// ZScoreThreshold flags points this many spreads from the baseline.
	ZScoreThreshold float64
	// HighDeviationPct and MediumDeviationPct are the severity tiers
	// (fractions, e.g. 0.40 and 0.20). MediumDeviationPct doubles as the
	// absolute business threshold that flags a point regardless of spread.
	HighDeviationPct   float64
	MediumDeviationPct float64
	// LookbackPoints is the reference window size including the newest point.
	LookbackPoints int
	// MinPoints is the minimum history before a series is scanned.
	MinPoints int
}

// DefaultConfig returns the default detection policy.
func DefaultConfig() Config {
	return Config{
		ZScoreThreshold:    3.0,
		HighDeviationPct:   0.40,
		MediumDeviationPct: 0.20,
		LookbackPoints:     30,
		MinPoints:          4,
	}
}

// Finding is one flagged observation.
type Finding struct {
	MetricName   string    `json:"metric_name"`
	ScopeID      string    `json:"scope_id"`
	Severity     string    `json:"severity"`
	Value        float64   `json:"value"`
	Baseline     float64   `json:"baseline"`
	Spread       float64   `json:"spread"`
	DeviationPct float64   `json:"deviation_pct"`
	ZScore       float64   `json:"z_score"`
	Timestamp    time.Time `json:"timestamp"`
	WindowStart  time.Time `json:"window_start"`
	Description  string    `json:"description"`
	// AlertID is the created (or pre-existing open) alert for this finding.
	AlertID string `json:"alert_id"`
	// Suppressed is true when an open alert already covered this window.
	Suppressed bool `json:"suppressed"`
}

// ScanResult summarizes one detection pass.
type ScanResult struct {
	SeriesScanned int       `json:"series_scanned"`
	Findings      []Finding `json:"findings"`
	AlertsCreated int       `json:"alerts_created"`
	Suppressed    int       `json:"suppressed"`
}

// Detector scans recent metric windows for statistical outliers and opens
// alerts for them.
type Detector interface {
	// Scan scans one metric (or every tracked series when metricName is
	// empty) over its recent window. A failure on one series degrades that
	// series only; remaining series are still scanned.
	Scan(ctx context.Context, metricName string) (*ScanResult, error)
}
