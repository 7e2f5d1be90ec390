package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/llm"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/forecast"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/health"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
)

const narrationSystemPrompt = `You are an automotive retail analyst. You are given
computed KPI analysis as JSON. Summarize it for a dealer-group executive in two
or three sentences. Use only numbers present in the JSON; never invent figures.`

type kpiAgent struct {
	scorer     health.Scorer
	forecaster forecast.Forecaster
	analyzer   rootcause.Analyzer
	narrator   llm.Narrator
	logger     *zap.Logger
}

// NewKPIAgent creates the analysis agent over the scan-engine stages.
func NewKPIAgent(scorer health.Scorer, forecaster forecast.Forecaster, analyzer rootcause.Analyzer, narrator llm.Narrator, logger *zap.Logger) KPIAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kpiAgent{
		scorer:     scorer,
		forecaster: forecaster,
		analyzer:   analyzer,
		narrator:   narrator,
		logger:     logger,
	}
}

func (a *kpiAgent) Analyze(ctx context.Context, metric, scope string) (*KPIAnalysisResult, error) {
	if scope == "" {
		return nil, ErrScopeRequired
	}

	h, err := a.scorer.ScoreScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("score scope: %w", err)
	}
	result := &KPIAnalysisResult{Health: h}

	if metric != "" {
		f, err := a.forecaster.Forecast(ctx, metric, scope, forecast.HorizonNextPoint)
		if err != nil {
			return nil, fmt.Errorf("forecast: %w", err)
		}
		result.Forecast = f
	}
	return result, nil
}

func (a *kpiAgent) RootCause(ctx context.Context, metric string) (*rootcause.Analysis, error) {
	if metric == "" {
		return nil, ErrMetricRequired
	}
	return a.analyzer.Analyze(ctx, metric)
}

// Narrate prefers the LLM provider and falls back to templates. The fallback
// is always produced from the same structured result, so a degraded response
// carries the same facts, just flatter prose.
func (a *kpiAgent) Narrate(ctx context.Context, question string, result interface{}, onChunk func(string)) (string, bool) {
	fallback := renderTemplate(result)

	if a.narrator == nil || !a.narrator.Configured() {
		if onChunk != nil {
			onChunk(fallback)
		}
		return fallback, true
	}

	payload, err := json.Marshal(result)
	if err != nil {
		a.logger.Warn("narration payload marshal failed", zap.Error(err))
		if onChunk != nil {
			onChunk(fallback)
		}
		return fallback, true
	}

	messages := []llm.Message{
		{Role: "system", Content: narrationSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nAnalysis:\n%s", question, payload)},
	}

	var text string
	if onChunk != nil {
		text, err = a.narrator.NarrateStream(ctx, messages, onChunk)
	} else {
		text, err = a.narrator.Narrate(ctx, messages)
	}
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil && !errors.Is(err, llm.ErrNotConfigured) {
			a.logger.Warn("narration failed, using template fallback", zap.Error(err))
		}
		if onChunk != nil {
			onChunk(fallback)
		}
		return fallback, true
	}
	return text, false
}

// renderTemplate produces the deterministic narration for a structured result.
func renderTemplate(result interface{}) string {
	switch r := result.(type) {
	case *KPIAnalysisResult:
		return renderKPITemplate(r)
	case *rootcause.Analysis:
		return renderRootCauseTemplate(r)
	case *LookupResult:
		return renderLookupTemplate(r)
	default:
		return "Analysis complete; see the structured result for details."
	}
}

func renderKPITemplate(r *KPIAnalysisResult) string {
	if r == nil || r.Health == nil {
		return "No health data is available for this scope."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s scores %.1f of 100 across %d tracked metrics.",
		r.Health.ScopeID, r.Health.Score, len(r.Health.Metrics))
	if len(r.Health.MissingMetrics) > 0 {
		fmt.Fprintf(&b, " No recent data for %s.", strings.Join(r.Health.MissingMetrics, ", "))
	}
	if f := r.Forecast; f != nil {
		if f.InsufficientData {
			fmt.Fprintf(&b, " Not enough history to forecast %s (%d of %d points).",
				f.MetricName, f.PointsAvailable, f.PointsRequired)
		} else {
			fmt.Fprintf(&b, " %s is projected at %.2f (range %.2f to %.2f).",
				f.MetricName, f.Predicted, f.ConfidenceLow, f.ConfidenceHigh)
		}
	}
	return b.String()
}

func renderRootCauseTemplate(r *rootcause.Analysis) string {
	if r == nil {
		return "No movement analysis is available."
	}
	if r.NoMaterialChange {
		return fmt.Sprintf("%s did not move materially between the two periods (%.1f%% change).",
			r.MetricName, r.TotalDeltaPct*100)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s moved %.1f%% period over period.", r.MetricName, r.TotalDeltaPct*100)
	for i, c := range r.Contributors {
		if i >= 3 || c.ImpactShare == 0 {
			break
		}
		fmt.Fprintf(&b, " %s accounts for %.0f%% of the movement (%.2f to %.2f).",
			c.ScopeID, c.ImpactShare*100, c.Prior, c.Current)
	}
	return b.String()
}

func renderLookupTemplate(r *LookupResult) string {
	if r == nil || len(r.Series) == 0 {
		return "No observations found for that metric in the requested window."
	}
	var b strings.Builder
	for i, s := range r.Series {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s for %s: %d points over the %s window, latest %.2f (range %.2f to %.2f, mean %.2f).",
			s.MetricName, s.ScopeID, s.Summary.Count, r.Window,
			s.Summary.Latest, s.Summary.Min, s.Summary.Max, s.Summary.Mean)
	}
	return b.String()
}
