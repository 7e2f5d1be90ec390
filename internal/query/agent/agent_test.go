package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/config"
	"github.com/dealerlytics/dealerlytics-ai/internal/llm"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/forecast"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/health"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/classifier"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

func seedDealers(t *testing.T) (store.Store, *catalog.Catalog) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for _, scope := range []string{"dealer-001", "dealer-002"} {
		for i := 0; i < 10; i++ {
			obs := &store.Observation{
				MetricName: "revenue",
				ScopeID:    scope,
				Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
				Value:      100 + float64(i),
			}
			if err := s.AppendObservation(context.Background(), obs); err != nil {
				t.Fatalf("AppendObservation: %v", err)
			}
		}
	}

	cat := catalog.New(s, config.DefaultMetricPolicies())
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return s, cat
}

func TestLookupSingleScope(t *testing.T) {
	s, cat := seedDealers(t)
	a := NewSQLAgent(s, cat, zap.NewNop())

	res, err := a.Lookup(context.Background(), LookupRequest{
		Metric: "revenue", Scope: "dealer-001", Window: classifier.WindowWeekly,
	})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(res.Series) != 1 {
		t.Fatalf("expected 1 series, got %d", len(res.Series))
	}
	sr := res.Series[0]
	// Weekly window anchored on the newest point (day 9) covers days 2..9.
	if sr.Summary.Count != 8 {
		t.Errorf("expected 8 points in a weekly window, got %d", sr.Summary.Count)
	}
	if sr.Summary.Latest != 109 {
		t.Errorf("latest = %.1f, want 109", sr.Summary.Latest)
	}
	if sr.Summary.Min > sr.Summary.Mean || sr.Summary.Mean > sr.Summary.Max {
		t.Errorf("summary inconsistent: %+v", sr.Summary)
	}
}

func TestLookupAllScopes(t *testing.T) {
	s, cat := seedDealers(t)
	a := NewSQLAgent(s, cat, zap.NewNop())

	res, err := a.Lookup(context.Background(), LookupRequest{Metric: "revenue"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(res.Series) != 2 {
		t.Errorf("expected both scopes, got %d series", len(res.Series))
	}
	if res.Window != classifier.WindowWeekly {
		t.Errorf("default window should be weekly, got %s", res.Window)
	}
}

func TestLookupRanksScopes(t *testing.T) {
	s, cat := seedDealers(t)

	// Third dealer with a higher latest value than the seeded pair (109).
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		obs := &store.Observation{
			MetricName: "revenue",
			ScopeID:    "dealer-003",
			Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
			Value:      200 + float64(i),
		}
		if err := s.AppendObservation(context.Background(), obs); err != nil {
			t.Fatalf("AppendObservation: %v", err)
		}
	}
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	a := NewSQLAgent(s, cat, zap.NewNop())
	res, err := a.Lookup(context.Background(), LookupRequest{Metric: "revenue"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(res.Ranking) != 3 {
		t.Fatalf("ranking entries = %d, want 3", len(res.Ranking))
	}
	if res.Ranking[0].ScopeID != "dealer-003" || res.Ranking[0].Latest != 209 {
		t.Errorf("best scope wrong: %+v", res.Ranking[0])
	}

	// Single-scope lookups carry no ranking.
	single, err := a.Lookup(context.Background(), LookupRequest{Metric: "revenue", Scope: "dealer-001"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if single.Ranking != nil {
		t.Errorf("single-scope ranking should be empty: %+v", single.Ranking)
	}
}

func TestLookupResolvesAlias(t *testing.T) {
	s, cat := seedDealers(t)
	a := NewSQLAgent(s, cat, zap.NewNop())

	res, err := a.Lookup(context.Background(), LookupRequest{Metric: "turnover", Scope: "dealer-001"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(res.Series) != 1 || res.Series[0].MetricName != "revenue" {
		t.Errorf("alias should resolve to revenue: %+v", res.Series)
	}
}

func TestLookupRequiresMetric(t *testing.T) {
	s, cat := seedDealers(t)
	a := NewSQLAgent(s, cat, zap.NewNop())

	if _, err := a.Lookup(context.Background(), LookupRequest{}); !errors.Is(err, ErrMetricRequired) {
		t.Errorf("expected ErrMetricRequired, got %v", err)
	}
	if _, err := a.Lookup(context.Background(), LookupRequest{Metric: "moon_phase"}); !errors.Is(err, ErrMetricRequired) {
		t.Errorf("expected ErrMetricRequired for unknown metric, got %v", err)
	}
}

func newKPIAgent(t *testing.T, narrator llm.Narrator) KPIAgent {
	t.Helper()
	s, cat := seedDealers(t)
	scorer := health.NewScorer(s, cat, zap.NewNop())
	fc := forecast.NewForecaster(s, cat, forecast.DefaultConfig(), zap.NewNop())
	rca := rootcause.NewAnalyzer(s, rootcause.Config{PeriodPoints: 3, MaterialChangePct: 0.01}, zap.NewNop())
	return NewKPIAgent(scorer, fc, rca, narrator, zap.NewNop())
}

func TestAnalyzeRequiresScope(t *testing.T) {
	a := newKPIAgent(t, nil)
	if _, err := a.Analyze(context.Background(), "revenue", ""); !errors.Is(err, ErrScopeRequired) {
		t.Errorf("expected ErrScopeRequired, got %v", err)
	}
}

func TestAnalyzeReturnsHealthAndForecast(t *testing.T) {
	a := newKPIAgent(t, nil)

	res, err := a.Analyze(context.Background(), "revenue", "dealer-001")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Health == nil || res.Health.ScopeID != "dealer-001" {
		t.Errorf("health missing: %+v", res.Health)
	}
	if res.Forecast == nil || res.Forecast.InsufficientData {
		t.Errorf("forecast missing or degraded: %+v", res.Forecast)
	}
}

func TestRootCauseRequiresMetric(t *testing.T) {
	a := newKPIAgent(t, nil)
	if _, err := a.RootCause(context.Background(), ""); !errors.Is(err, ErrMetricRequired) {
		t.Errorf("expected ErrMetricRequired, got %v", err)
	}
}

func TestNarrateFallsBackWithoutProvider(t *testing.T) {
	a := newKPIAgent(t, nil)

	res, err := a.Analyze(context.Background(), "revenue", "dealer-001")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	text, degraded := a.Narrate(context.Background(), "how is dealer-001 doing", res, nil)
	if !degraded {
		t.Error("narration without a provider must report degraded")
	}
	if !strings.Contains(text, "dealer-001") {
		t.Errorf("template narration should name the scope: %q", text)
	}
}

// stubNarrator returns fixed prose, optionally failing.
type stubNarrator struct {
	text string
	fail bool
}

func (s stubNarrator) Narrate(ctx context.Context, messages []llm.Message) (string, error) {
	if s.fail {
		return "", errors.New("provider down")
	}
	return s.text, nil
}

func (s stubNarrator) NarrateStream(ctx context.Context, messages []llm.Message, onChunk func(string)) (string, error) {
	if s.fail {
		return "", errors.New("provider down")
	}
	if onChunk != nil {
		onChunk(s.text)
	}
	return s.text, nil
}

func (s stubNarrator) Provider() string { return "stub" }
func (s stubNarrator) Configured() bool { return true }

func TestNarrateUsesProvider(t *testing.T) {
	a := newKPIAgent(t, stubNarrator{text: "Dealer 001 is in good shape."})

	res, err := a.Analyze(context.Background(), "revenue", "dealer-001")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	text, degraded := a.Narrate(context.Background(), "how is dealer-001 doing", res, nil)
	if degraded {
		t.Error("working provider should not be degraded")
	}
	if text != "Dealer 001 is in good shape." {
		t.Errorf("unexpected narration: %q", text)
	}
}

func TestNarrateFallsBackOnProviderFailure(t *testing.T) {
	a := newKPIAgent(t, stubNarrator{fail: true})

	res, err := a.Analyze(context.Background(), "revenue", "dealer-001")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var streamed []string
	text, degraded := a.Narrate(context.Background(), "how is dealer-001 doing", res,
		func(c string) { streamed = append(streamed, c) })
	if !degraded {
		t.Error("failed provider must degrade")
	}
	if text == "" {
		t.Error("fallback narration empty")
	}
	// The fallback still streams so WebSocket clients get the text.
	if len(streamed) == 0 {
		t.Error("fallback was not streamed")
	}
}
