package health

import (
	"context"
	"time"
)

// Package health computes composite health scores for scopes.
//
// A health score is a weighted 0-100 composite over the tracked KPIs of one
// scope (dealer, plant, or region). Each metric contributes an attainment
// score against its configured target, weighted by its configured weight.
// When a scope is missing data for some metrics, the remaining weights are
// renormalized to sum to 1.0 so the composite stays on the same 0-100 scale
// and scopes with sparse data are still comparable.
//
// Metric direction matters: for lower_better metrics (inventory days,
// warranty claims) attainment improves as the value falls below target.

// MetricScore is one metric's contribution to a composite score.
type MetricScore struct {
	MetricName string  `json:"metric_name"`
	Value      float64 `json:"value"`
	Target     float64 `json:"target"`
	// Weight is the renormalized weight actually used.
	Weight float64 `json:"weight"`
	// Score is the 0-100 attainment for this metric alone.
	Score float64 `json:"score"`
	// Contribution is Weight * Score, the amount added to the composite.
	Contribution float64 `json:"contribution"`
}

// ScopeHealth is the computed composite for one scope.
type ScopeHealth struct {
	ScopeID  string        `json:"scope_id"`
	Score    float64       `json:"score"`
	ScanTime time.Time     `json:"scan_time"`
	Metrics  []MetricScore `json:"metrics"`
	// MissingMetrics lists tracked metrics with no observations for this
	// scope; their weight was redistributed.
	MissingMetrics []string `json:"missing_metrics,omitempty"`
}

// Scorer computes and persists composite health scores.
type Scorer interface {
	// ScoreScope computes the composite for one scope from each metric's
	// newest observation and persists it.
	ScoreScope(ctx context.Context, scopeID string) (*ScopeHealth, error)

	// ScoreAll scores every known scope. A failure on one scope degrades
	// that scope only.
	ScoreAll(ctx context.Context) ([]*ScopeHealth, error)
}
