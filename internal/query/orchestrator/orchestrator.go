package orchestrator

import (
	"context"
	"time"

	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/agent"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/classifier"
)

// Package orchestrator coordinates the query pipeline: classify, route to the
// intent's agent, narrate, and wrap everything in a uniform envelope.
//
// The envelope contract: every query gets one, no matter what happened. A
// question that classifies to nothing, names an unknown metric, or hits a
// storage error still comes back as an envelope with the classification
// outcome, an explanatory narrative, and (when something failed) the error —
// never a bare transport error.

// Slots are the references extracted from the question.
type Slots struct {
	Metric string `json:"metric,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Window string `json:"window,omitempty"`
}

// ChartPoint is one plotted value.
type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ChartSeries is one named line or bar group.
type ChartSeries struct {
	Name   string       `json:"name"`
	Points []ChartPoint `json:"points"`
}

// ChartSpec describes a renderable chart for the answer. Optional: general
// and failed queries carry none.
type ChartSpec struct {
	Type   string        `json:"type"` // "line" or "bar"
	Title  string        `json:"title"`
	XLabel string        `json:"x_label,omitempty"`
	YLabel string        `json:"y_label,omitempty"`
	Series []ChartSeries `json:"series"`
}

// Envelope is the uniform response for every query. Exactly one of the
// per-intent result fields is set, matching Intent; all may be nil for
// general or failed queries.
type Envelope struct {
	QueryID    string            `json:"query_id"`
	Query      string            `json:"query"`
	Intent     classifier.Intent `json:"intent"`
	Confidence float64           `json:"confidence"`
	Tier       string            `json:"tier"`
	Slots      Slots             `json:"slots"`

	DataLookup  *agent.LookupResult      `json:"data_lookup,omitempty"`
	KPIAnalysis *agent.KPIAnalysisResult `json:"kpi_analysis,omitempty"`
	RootCause   *rootcause.Analysis      `json:"root_cause,omitempty"`

	// Narrative is the prose answer. Degraded marks template narration
	// (no LLM provider, or the provider failed).
	Narrative string `json:"narrative"`
	Degraded  bool   `json:"degraded"`

	// Chart, when set, mirrors the result as a renderable chart.
	Chart *ChartSpec `json:"chart,omitempty"`
	// Recommendations are suggested follow-ups derived from the result.
	// Always present, possibly empty.
	Recommendations []string `json:"recommendations"`

	// Error carries a human-readable failure; the envelope is still
	// complete around it.
	Error string `json:"error,omitempty"`

	ElapsedMs int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types emitted on the streaming path.
const (
	EventStart    = "start"    // query accepted, carries the query ID
	EventRouted   = "routed"   // classification done, carries intent and slots
	EventChunk    = "chunk"    // one narration fragment
	EventComplete = "complete" // terminal, carries the full envelope
	EventError    = "error"    // terminal, carries the envelope with Error set
)

// Event is one streaming update.
type Event struct {
	Type     string    `json:"type"`
	QueryID  string    `json:"query_id"`
	Chunk    string    `json:"chunk,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

// Orchestrator runs the query pipeline.
type Orchestrator interface {
	// ProcessQuery answers one question. The envelope is never nil.
	ProcessQuery(ctx context.Context, query string) *Envelope

	// ProcessQueryStream answers one question, emitting progress events.
	// emit is called sequentially from one goroutine; the terminal event is
	// complete or error, and the returned envelope matches it.
	ProcessQueryStream(ctx context.Context, query string, emit func(Event)) *Envelope
}
