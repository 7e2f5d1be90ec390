package rootcause

import "context"

// Package rootcause decomposes aggregate metric movement across scopes.
//
// Given a metric and two adjacent periods, the analyzer computes each scope's
// contribution to the aggregate change. Contribution is reported as impact
// share: a scope's absolute delta over the sum of all absolute deltas, so
// shares are in [0, 1] and offsetting movements (one scope up, one down) are
// both surfaced rather than netted away.
//
// When the aggregate barely moved relative to the material-change threshold,
// the result says so explicitly instead of ranking noise.

// Config holds decomposition policy.
type Config struct {
	// PeriodPoints is the number of observations per comparison period.
	PeriodPoints int
	// MaterialChangePct is the relative aggregate movement below which the
	// result is flagged as no material change (fraction, e.g. 0.10).
	MaterialChangePct float64
}

// DefaultConfig returns the default decomposition policy.
func DefaultConfig() Config {
	return Config{PeriodPoints: 7, MaterialChangePct: 0.10}
}

// Contributor is one scope's share of the aggregate movement.
type Contributor struct {
	ScopeID string  `json:"scope_id"`
	Prior   float64 `json:"prior_value"`
	Current float64 `json:"current_value"`
	Delta   float64 `json:"delta"`
	// DeltaPct is the scope's own relative movement, signed.
	DeltaPct float64 `json:"delta_pct"`
	// ImpactShare is |delta| over the sum of all |delta|s, always in [0, 1].
	ImpactShare float64 `json:"impact_share"`
}

// Analysis is the decomposition of one metric's movement.
type Analysis struct {
	MetricName   string  `json:"metric_name"`
	PeriodPoints int     `json:"period_points"`
	TotalPrior   float64 `json:"total_prior"`
	TotalCurrent float64 `json:"total_current"`
	TotalDelta   float64 `json:"total_delta"`
	// TotalDeltaPct is the aggregate relative movement, signed.
	TotalDeltaPct float64 `json:"total_delta_pct"`
	// NoMaterialChange is true when the aggregate moved less than the
	// material-change threshold; Contributors is empty in that case.
	NoMaterialChange bool `json:"no_material_change"`
	// Contributors is sorted by impact share, largest first.
	Contributors []Contributor `json:"contributors"`
	// ScopesSkipped lists scopes without enough history for both periods.
	ScopesSkipped []string `json:"scopes_skipped,omitempty"`
}

// Analyzer decomposes metric movement across scopes.
type Analyzer interface {
	// Analyze compares the newest period against the one before it for every
	// scope carrying the metric.
	Analyze(ctx context.Context, metricName string) (*Analysis, error)
}
