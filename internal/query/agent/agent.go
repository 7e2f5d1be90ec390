package agent

import (
	"context"
	"errors"
	"time"

	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/forecast"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/health"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
)

// Package agent implements the specialized workers behind each query intent.
//
// The SQL agent answers data_lookup questions with raw series straight from
// the store: no model involvement, every number traceable to stored
// observations. The KPI agent answers kpi_analysis and root_cause questions
// by driving the same analysis stages the scan engine uses, then narrating
// the structured result. Narration prefers the configured LLM provider and
// falls back to deterministic templates, flagging the response degraded so
// callers can tell prose from fallback.

// ErrMetricRequired is returned when a lookup cannot resolve which metric the
// question refers to.
var ErrMetricRequired = errors.New("could not resolve a metric from the question")

// ErrScopeRequired is returned when an analysis needs a scope the question
// did not name.
var ErrScopeRequired = errors.New("could not resolve a scope from the question")

// Point is one observation in a returned series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SeriesSummary aggregates a returned series.
type SeriesSummary struct {
	Count  int       `json:"count"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Mean   float64   `json:"mean"`
	Latest float64   `json:"latest"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Series is one (metric, scope) slice of history.
type Series struct {
	MetricName string        `json:"metric_name"`
	ScopeID    string        `json:"scope_id"`
	Points     []Point       `json:"points"`
	Summary    SeriesSummary `json:"summary"`
}

// LookupRequest asks for raw history.
type LookupRequest struct {
	// Metric is the canonical metric name. Required.
	Metric string
	// Scope narrows to one scope; empty means every scope with the metric.
	Scope string
	// Window is hourly, daily, weekly, or monthly; empty means weekly.
	Window string
}

// RankEntry places one scope in a cross-scope comparison.
type RankEntry struct {
	ScopeID string  `json:"scope_id"`
	Latest  float64 `json:"latest"`
}

// LookupResult is the data_lookup answer.
type LookupResult struct {
	Series []Series `json:"series"`
	// Window is the resolved window the lookup covered.
	Window string `json:"window"`
	// Ranking orders scopes by latest value, best first, when the lookup
	// spanned more than one scope. Lower-better metrics rank ascending.
	Ranking []RankEntry `json:"ranking,omitempty"`
}

// SQLAgent answers data_lookup questions from stored observations.
type SQLAgent interface {
	Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error)
}

// KPIAnalysisResult is the kpi_analysis answer: the scope's composite health
// plus a forecast when the question named a metric.
type KPIAnalysisResult struct {
	Health   *health.ScopeHealth `json:"health,omitempty"`
	Forecast *forecast.Result    `json:"forecast,omitempty"`
}

// KPIAgent answers analytical questions by driving the scan-engine stages on
// demand and narrating the result.
type KPIAgent interface {
	// Analyze computes health for the scope (and a forecast when metric is
	// set).
	Analyze(ctx context.Context, metric, scope string) (*KPIAnalysisResult, error)

	// RootCause decomposes a metric's recent movement across scopes.
	RootCause(ctx context.Context, metric string) (*rootcause.Analysis, error)

	// Narrate turns a structured result into prose. When the LLM provider
	// is unavailable it renders the deterministic template instead and
	// reports degraded=true. onChunk, when non-nil, receives streaming
	// fragments.
	Narrate(ctx context.Context, question string, result interface{}, onChunk func(string)) (text string, degraded bool)
}
