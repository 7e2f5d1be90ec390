package health

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/config"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

func newTestScorer(t *testing.T, policies []config.MetricPolicy, values map[string]float64) (Scorer, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for metric, v := range values {
		obs := &store.Observation{MetricName: metric, ScopeID: "dealer-001", Timestamp: ts, Value: v}
		if err := s.AppendObservation(context.Background(), obs); err != nil {
			t.Fatalf("AppendObservation: %v", err)
		}
	}

	cat := catalog.New(s, policies)
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return NewScorer(s, cat, zap.NewNop()), s
}

func twoMetricPolicies() []config.MetricPolicy {
	return []config.MetricPolicy{
		{Name: "revenue", DisplayName: "Revenue", Target: 100, Weight: 0.6, Direction: "higher_better"},
		{Name: "inventory_days", DisplayName: "Inventory Days", Target: 60, Weight: 0.4, Direction: "lower_better"},
	}
}

func TestScoreAtTargetIsPerfect(t *testing.T) {
	sc, _ := newTestScorer(t, twoMetricPolicies(), map[string]float64{
		"revenue":        100,
		"inventory_days": 60,
	})

	h, err := sc.ScoreScope(context.Background(), "dealer-001")
	if err != nil {
		t.Fatalf("ScoreScope: %v", err)
	}
	if math.Abs(h.Score-100) > 0.001 {
		t.Errorf("expected 100 at target, got %.3f", h.Score)
	}
}

func TestWeightedComposite(t *testing.T) {
	// revenue at 50% attainment, inventory at target:
	// 0.6*50 + 0.4*100 = 70.
	sc, _ := newTestScorer(t, twoMetricPolicies(), map[string]float64{
		"revenue":        50,
		"inventory_days": 60,
	})

	h, err := sc.ScoreScope(context.Background(), "dealer-001")
	if err != nil {
		t.Fatalf("ScoreScope: %v", err)
	}
	if math.Abs(h.Score-70) > 0.001 {
		t.Errorf("expected 70, got %.3f", h.Score)
	}
}

func TestLowerBetterDirection(t *testing.T) {
	// 120 inventory days against a 60-day target is 50% attainment.
	sc, _ := newTestScorer(t, twoMetricPolicies(), map[string]float64{
		"revenue":        100,
		"inventory_days": 120,
	})

	h, err := sc.ScoreScope(context.Background(), "dealer-001")
	if err != nil {
		t.Fatalf("ScoreScope: %v", err)
	}
	// 0.6*100 + 0.4*50 = 80.
	if math.Abs(h.Score-80) > 0.001 {
		t.Errorf("expected 80, got %.3f", h.Score)
	}
}

func TestMissingMetricRenormalizesWeights(t *testing.T) {
	// Only revenue has data; its 0.6 weight renormalizes to 1.0 and the
	// composite equals revenue attainment alone.
	sc, _ := newTestScorer(t, twoMetricPolicies(), map[string]float64{
		"revenue": 80,
	})

	h, err := sc.ScoreScope(context.Background(), "dealer-001")
	if err != nil {
		t.Fatalf("ScoreScope: %v", err)
	}
	if math.Abs(h.Score-80) > 0.001 {
		t.Errorf("expected 80 after renormalization, got %.3f", h.Score)
	}
	if len(h.MissingMetrics) != 1 || h.MissingMetrics[0] != "inventory_days" {
		t.Errorf("missing metrics wrong: %v", h.MissingMetrics)
	}

	var total float64
	for _, m := range h.Metrics {
		total += m.Weight
	}
	if math.Abs(total-1.0) > 0.001 {
		t.Errorf("renormalized weights must sum to 1.0, got %.3f", total)
	}
}

func TestOverperformanceClamped(t *testing.T) {
	sc, _ := newTestScorer(t, twoMetricPolicies(), map[string]float64{
		"revenue":        500, // 5x target
		"inventory_days": 60,
	})

	h, err := sc.ScoreScope(context.Background(), "dealer-001")
	if err != nil {
		t.Fatalf("ScoreScope: %v", err)
	}
	if h.Score > 100 {
		t.Errorf("score must stay on 0-100, got %.3f", h.Score)
	}
}

func TestBreakdownPersisted(t *testing.T) {
	sc, s := newTestScorer(t, twoMetricPolicies(), map[string]float64{
		"revenue":        50,
		"inventory_days": 60,
	})

	if _, err := sc.ScoreScope(context.Background(), "dealer-001"); err != nil {
		t.Fatalf("ScoreScope: %v", err)
	}

	rec, err := s.LatestHealthScore(context.Background(), "dealer-001")
	if err != nil {
		t.Fatalf("LatestHealthScore: %v", err)
	}
	if rec == nil {
		t.Fatal("no health score persisted")
	}

	var breakdown []MetricScore
	if err := json.Unmarshal([]byte(rec.Breakdown), &breakdown); err != nil {
		t.Fatalf("breakdown is not valid JSON: %v", err)
	}
	if len(breakdown) != 2 {
		t.Errorf("expected 2 metric contributions, got %d", len(breakdown))
	}
}

func TestNoDataScopeErrors(t *testing.T) {
	sc, _ := newTestScorer(t, twoMetricPolicies(), map[string]float64{"revenue": 100})

	if _, err := sc.ScoreScope(context.Background(), "dealer-404"); err == nil {
		t.Error("expected error for scope with no observations")
	}
}

func TestDefaultPolicyWeightsSumToOne(t *testing.T) {
	var total float64
	for _, p := range config.DefaultMetricPolicies() {
		total += p.Weight
	}
	if math.Abs(total-1.0) > 0.001 {
		t.Errorf("default weights must sum to 1.0, got %.3f", total)
	}
}
