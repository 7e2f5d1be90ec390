package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/classifier"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// windowSpans maps a resolved window to the lookback span, anchored on the
// newest observation of each series rather than the wall clock, so a stale
// feed still answers about the data it has.
var windowSpans = map[string]time.Duration{
	classifier.WindowHourly:  time.Hour,
	classifier.WindowDaily:   24 * time.Hour,
	classifier.WindowWeekly:  7 * 24 * time.Hour,
	classifier.WindowMonthly: 30 * 24 * time.Hour,
}

type sqlAgent struct {
	st     store.Store
	cat    *catalog.Catalog
	logger *zap.Logger
}

// NewSQLAgent creates the data_lookup agent.
func NewSQLAgent(st store.Store, cat *catalog.Catalog, logger *zap.Logger) SQLAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sqlAgent{st: st, cat: cat, logger: logger}
}

func (a *sqlAgent) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	if req.Metric == "" {
		return nil, ErrMetricRequired
	}
	snap := a.cat.Snapshot()
	def, ok := snap.Lookup(req.Metric)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a tracked metric", ErrMetricRequired, req.Metric)
	}

	window := req.Window
	if window == "" {
		window = classifier.WindowWeekly
	}
	span, ok := windowSpans[window]
	if !ok {
		return nil, fmt.Errorf("unknown window %q", window)
	}

	var scopes []string
	if req.Scope != "" {
		scopes = []string{req.Scope}
	} else {
		keys, err := a.st.ListSeries(ctx)
		if err != nil {
			return nil, fmt.Errorf("list series: %w", err)
		}
		for _, k := range keys {
			if k.MetricName == def.Name {
				scopes = append(scopes, k.ScopeID)
			}
		}
	}

	result := &LookupResult{Window: window}
	for _, scope := range scopes {
		series, err := a.loadSeries(ctx, def.Name, scope, span)
		if err != nil {
			return nil, err
		}
		if series != nil {
			result.Series = append(result.Series, *series)
		}
	}

	if len(result.Series) > 1 {
		for _, s := range result.Series {
			result.Ranking = append(result.Ranking, RankEntry{
				ScopeID: s.ScopeID, Latest: s.Summary.Latest,
			})
		}
		sort.Slice(result.Ranking, func(i, j int) bool {
			if def.LowerBetter() {
				return result.Ranking[i].Latest < result.Ranking[j].Latest
			}
			return result.Ranking[i].Latest > result.Ranking[j].Latest
		})
	}
	return result, nil
}

// loadSeries returns the window of history ending at the series' newest
// observation, or nil when the series is empty.
func (a *sqlAgent) loadSeries(ctx context.Context, metric, scope string, span time.Duration) (*Series, error) {
	newest, err := a.st.LatestObservations(ctx, metric, scope, 1)
	if err != nil {
		return nil, fmt.Errorf("newest %s/%s: %w", metric, scope, err)
	}
	if len(newest) == 0 {
		return nil, nil
	}
	to := newest[0].Timestamp
	from := to.Add(-span)

	obs, err := a.st.QueryRange(ctx, metric, scope, from, to)
	if err != nil {
		return nil, fmt.Errorf("range %s/%s: %w", metric, scope, err)
	}

	series := &Series{MetricName: metric, ScopeID: scope}
	for _, o := range obs {
		series.Points = append(series.Points, Point{Timestamp: o.Timestamp, Value: o.Value})
	}
	series.Summary = summarize(series.Points)
	return series, nil
}

func summarize(points []Point) SeriesSummary {
	s := SeriesSummary{Count: len(points)}
	if len(points) == 0 {
		return s
	}
	s.Min, s.Max = points[0].Value, points[0].Value
	var sum float64
	for _, p := range points {
		if p.Value < s.Min {
			s.Min = p.Value
		}
		if p.Value > s.Max {
			s.Max = p.Value
		}
		sum += p.Value
	}
	s.Mean = sum / float64(len(points))
	s.Latest = points[len(points)-1].Value
	s.From = points[0].Timestamp
	s.To = points[len(points)-1].Timestamp
	return s
}
