package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/metrics"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/agent"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/classifier"
)

type orchestrator struct {
	classifier classifier.Classifier
	sqlAgent   agent.SQLAgent
	kpiAgent   agent.KPIAgent
	cat        *catalog.Catalog
	audit      audit.Logger
	logger     *zap.Logger
}

// New creates the query orchestrator.
func New(cls classifier.Classifier, sqlAgent agent.SQLAgent, kpiAgent agent.KPIAgent, cat *catalog.Catalog, auditLog audit.Logger, logger *zap.Logger) Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orchestrator{
		classifier: cls,
		sqlAgent:   sqlAgent,
		kpiAgent:   kpiAgent,
		cat:        cat,
		audit:      auditLog,
		logger:     logger,
	}
}

func (o *orchestrator) ProcessQuery(ctx context.Context, query string) *Envelope {
	return o.process(ctx, query, nil)
}

func (o *orchestrator) ProcessQueryStream(ctx context.Context, query string, emit func(Event)) *Envelope {
	return o.process(ctx, query, emit)
}

func (o *orchestrator) process(ctx context.Context, query string, emit func(Event)) *Envelope {
	start := time.Now()
	env := &Envelope{
		QueryID:   uuid.New().String(),
		Query:     query,
		Intent:    classifier.IntentGeneral,
		Tier:      classifier.TierGeneral,
		Timestamp: start.UTC(),
	}
	send := func(ev Event) {
		if emit != nil {
			ev.QueryID = env.QueryID
			emit(ev)
		}
	}
	send(Event{Type: EventStart})

	if strings.TrimSpace(query) == "" {
		env.Error = "empty query"
		env.Narrative = "Ask a question about your tracked KPIs, for example: show weekly revenue trend."
		return o.finish(ctx, env, start, send)
	}

	cls, err := o.classifier.Classify(ctx, query)
	if err != nil {
		env.Error = fmt.Sprintf("classification failed: %v", err)
		env.Narrative = "The question could not be processed; please rephrase it."
		return o.finish(ctx, env, start, send)
	}
	env.Intent = cls.Intent
	env.Confidence = cls.Confidence
	env.Tier = cls.Tier
	env.Slots = Slots{Metric: cls.Metric, Scope: cls.Scope, Window: cls.Window}
	send(Event{Type: EventRouted, Envelope: env})

	onChunk := func(c string) { send(Event{Type: EventChunk, Chunk: c}) }

	switch cls.Intent {
	case classifier.IntentDataLookup:
		res, err := o.sqlAgent.Lookup(ctx, agent.LookupRequest{
			Metric: cls.Metric, Scope: cls.Scope, Window: cls.Window,
		})
		if err != nil {
			env.Error = err.Error()
			env.Narrative = o.lookupGuidance(err)
			env.Degraded = true
			break
		}
		env.DataLookup = res
		env.Chart = lookupChart(res)
		env.Narrative, env.Degraded = o.kpiAgent.Narrate(ctx, query, res, onChunk)

	case classifier.IntentKPIAnalysis:
		scope := cls.Scope
		if scope == "" {
			// A single-rooftop deployment doesn't make the user name it.
			if scopes := o.cat.Snapshot().Scopes(); len(scopes) == 1 {
				scope = scopes[0]
				env.Slots.Scope = scope
			}
		}
		res, err := o.kpiAgent.Analyze(ctx, cls.Metric, scope)
		if err != nil {
			env.Error = err.Error()
			env.Narrative = o.analysisGuidance(err)
			env.Degraded = true
			break
		}
		env.KPIAnalysis = res
		env.Chart = analysisChart(res)
		env.Recommendations = analysisRecommendations(res)
		env.Narrative, env.Degraded = o.kpiAgent.Narrate(ctx, query, res, onChunk)

	case classifier.IntentRootCause:
		res, err := o.kpiAgent.RootCause(ctx, cls.Metric)
		if err != nil {
			env.Error = err.Error()
			env.Narrative = o.analysisGuidance(err)
			env.Degraded = true
			break
		}
		env.RootCause = res
		env.Chart = rootCauseChart(res)
		env.Recommendations = rootCauseRecommendations(res)
		env.Narrative, env.Degraded = o.kpiAgent.Narrate(ctx, query, res, onChunk)

	default:
		env.Narrative = o.generalGuidance()
		env.Degraded = true
	}

	return o.finish(ctx, env, start, send)
}

func (o *orchestrator) finish(ctx context.Context, env *Envelope, start time.Time, send func(Event)) *Envelope {
	env.ElapsedMs = time.Since(start).Milliseconds()
	if env.Recommendations == nil {
		env.Recommendations = []string{}
	}

	status := "success"
	eventType := audit.EventQueryProcessed
	terminal := EventComplete
	if env.Error != "" {
		status = "failure"
		eventType = audit.EventQueryFailed
		terminal = EventError
	}
	metrics.QueriesTotal.WithLabelValues(string(env.Intent), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(env.Intent)).Observe(time.Since(start).Seconds())

	if o.audit != nil {
		ev := audit.NewEvent(eventType).
			WithCorrelationID(env.QueryID).
			WithSubject(env.Slots.Metric, env.Slots.Scope).
			WithDescription(env.Query).
			WithDuration(time.Since(start)).
			WithMetadata("intent", string(env.Intent)).
			WithMetadata("tier", env.Tier)
		if env.Error != "" {
			ev = ev.WithResult(audit.ResultFailure).WithMetadata("error", env.Error)
		}
		_ = o.audit.Log(ctx, ev)
	}

	o.logger.Info("query processed",
		zap.String("query_id", env.QueryID),
		zap.String("intent", string(env.Intent)),
		zap.String("tier", env.Tier),
		zap.Int64("elapsed_ms", env.ElapsedMs),
		zap.String("error", env.Error),
	)

	send(Event{Type: terminal, Envelope: env})
	return env
}

func (o *orchestrator) lookupGuidance(err error) string {
	return fmt.Sprintf("That lookup could not run (%v). Name one of the tracked metrics: %s.",
		err, strings.Join(o.metricNames(), ", "))
}

func (o *orchestrator) analysisGuidance(err error) string {
	return fmt.Sprintf("That analysis could not run (%v). Name a metric and a scope, for example: how is dealer-001 doing on revenue.", err)
}

func (o *orchestrator) generalGuidance() string {
	return fmt.Sprintf("I can look up KPI history, assess scope health, forecast, and explain movements. Tracked metrics: %s.",
		strings.Join(o.metricNames(), ", "))
}

// lookupChart renders raw series as a line chart, one line per scope.
func lookupChart(res *agent.LookupResult) *ChartSpec {
	if len(res.Series) == 0 {
		return nil
	}
	spec := &ChartSpec{
		Type:   "line",
		Title:  fmt.Sprintf("%s (%s)", res.Series[0].MetricName, res.Window),
		XLabel: "date",
		YLabel: res.Series[0].MetricName,
	}
	for _, s := range res.Series {
		cs := ChartSeries{Name: s.ScopeID}
		for _, p := range s.Points {
			cs.Points = append(cs.Points, ChartPoint{
				Label: p.Timestamp.Format("2006-01-02"),
				Value: p.Value,
			})
		}
		spec.Series = append(spec.Series, cs)
	}
	return spec
}

// analysisChart renders the health breakdown as a bar chart of metric scores.
func analysisChart(res *agent.KPIAnalysisResult) *ChartSpec {
	if res.Health == nil || len(res.Health.Metrics) == 0 {
		return nil
	}
	cs := ChartSeries{Name: res.Health.ScopeID}
	for _, m := range res.Health.Metrics {
		cs.Points = append(cs.Points, ChartPoint{Label: m.MetricName, Value: m.Score})
	}
	return &ChartSpec{
		Type:   "bar",
		Title:  fmt.Sprintf("Health breakdown for %s", res.Health.ScopeID),
		YLabel: "score",
		Series: []ChartSeries{cs},
	}
}

func analysisRecommendations(res *agent.KPIAnalysisResult) []string {
	var recs []string
	if res.Health != nil {
		for _, m := range res.Health.Metrics {
			if m.Score < 70 {
				recs = append(recs, fmt.Sprintf(
					"%s scores %.0f against its target of %.0f; review it first.",
					m.MetricName, m.Score, m.Target))
			}
		}
		for _, missing := range res.Health.MissingMetrics {
			recs = append(recs, fmt.Sprintf(
				"%s has no recent data for this scope; check the feed.", missing))
		}
	}
	if f := res.Forecast; f != nil && !f.InsufficientData && f.Slope < 0 {
		recs = append(recs, fmt.Sprintf(
			"%s is trending down (%s projected at %.1f); investigate before the next scan.",
			f.MetricName, f.Horizon, f.Predicted))
	}
	return recs
}

// rootCauseChart renders contributor impact shares as a bar chart.
func rootCauseChart(res *rootcause.Analysis) *ChartSpec {
	if len(res.Contributors) == 0 {
		return nil
	}
	cs := ChartSeries{Name: res.MetricName}
	for _, c := range res.Contributors {
		cs.Points = append(cs.Points, ChartPoint{Label: c.ScopeID, Value: c.ImpactShare})
	}
	return &ChartSpec{
		Type:   "bar",
		Title:  fmt.Sprintf("Drivers of the %s movement", res.MetricName),
		YLabel: "impact share",
		Series: []ChartSeries{cs},
	}
}

func rootCauseRecommendations(res *rootcause.Analysis) []string {
	if res.NoMaterialChange || len(res.Contributors) == 0 {
		return nil
	}
	top := res.Contributors[0]
	recs := []string{fmt.Sprintf(
		"%s drove %.0f%% of the %s movement (%.1f to %.1f); start there.",
		top.ScopeID, top.ImpactShare*100, res.MetricName, top.Prior, top.Current)}
	for _, c := range res.Contributors[1:] {
		if c.ImpactShare >= 0.25 && c.Delta < 0 {
			recs = append(recs, fmt.Sprintf(
				"%s also declined (%.1f to %.1f, %.0f%% of the movement).",
				c.ScopeID, c.Prior, c.Current, c.ImpactShare*100))
		}
	}
	return recs
}

func (o *orchestrator) metricNames() []string {
	defs := o.cat.Snapshot().Metrics()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}
