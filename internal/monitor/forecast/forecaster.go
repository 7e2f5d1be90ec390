package forecast

import (
	"context"
	"time"
)

// Package forecast produces short-horizon metric projections.
//
// The model is deliberately simple: ordinary least-squares linear regression
// over the recent window, projected one step ahead, with a confidence band of
// 1.96 residual standard deviations around the point estimate. The band always
// brackets the point: ConfidenceLow <= Predicted <= ConfidenceHigh.
//
// Series shorter than the configured minimum are not guessed at. The result
// carries an explicit InsufficientData marker with the points available and
// required, so callers render "not enough history" instead of a fabricated
// number.

// Horizon labels for persisted forecasts.
const (
	HorizonNextPoint = "next_point"
	HorizonNextWeek  = "next_week"
	HorizonNextMonth = "next_month"
)

// Config holds forecasting policy.
type Config struct {
	// LookbackPoints is the regression window size.
	LookbackPoints int
	// MinPoints is the minimum history required to produce a projection.
	MinPoints int
}

// DefaultConfig returns the default forecasting policy.
func DefaultConfig() Config {
	return Config{LookbackPoints: 30, MinPoints: 5}
}

// Result is the outcome of one forecast request. Exactly one of the two
// shapes is populated: a projection, or an insufficient-data marker.
type Result struct {
	MetricName string `json:"metric_name"`
	ScopeID    string `json:"scope_id"`
	Horizon    string `json:"horizon"`

	// InsufficientData is true when the series is too short to project.
	// PointsAvailable and PointsRequired explain why.
	InsufficientData bool `json:"insufficient_data"`
	PointsAvailable  int  `json:"points_available"`
	PointsRequired   int  `json:"points_required"`

	// Projection fields, valid only when InsufficientData is false.
	Predicted      float64   `json:"predicted_value"`
	ConfidenceLow  float64   `json:"confidence_low"`
	ConfidenceHigh float64   `json:"confidence_high"`
	Slope          float64   `json:"slope"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Forecaster projects the next value of a metric series.
type Forecaster interface {
	// Forecast projects one series at the given horizon and persists the
	// projection. Too little history yields an InsufficientData result, not
	// an error.
	Forecast(ctx context.Context, metricName, scopeID, horizon string) (*Result, error)

	// ForecastAll projects every tracked series at the given horizon. A
	// failure on one series degrades that series only.
	ForecastAll(ctx context.Context, horizon string) ([]*Result, error)
}
