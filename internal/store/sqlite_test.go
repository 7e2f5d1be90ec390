package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Observations ─────────────────────────────────────────────────────────────

func TestAppendObservationMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	first := &Observation{MetricName: "revenue", ScopeID: "dealer-001", Timestamp: base, Value: 100}
	if err := s.AppendObservation(ctx, first); err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}
	if first.ID == 0 {
		t.Error("expected assigned ID after append")
	}

	// Appending to a series that already has rows must keep working.
	second := &Observation{MetricName: "revenue", ScopeID: "dealer-001", Timestamp: base.Add(time.Hour), Value: 102}
	if err := s.AppendObservation(ctx, second); err != nil {
		t.Fatalf("AppendObservation to existing series: %v", err)
	}
	third := &Observation{MetricName: "revenue", ScopeID: "dealer-001", Timestamp: base.Add(2 * time.Hour), Value: 104}
	if err := s.AppendObservation(ctx, third); err != nil {
		t.Fatalf("AppendObservation third point: %v", err)
	}

	// Same timestamp must be rejected.
	dup := &Observation{MetricName: "revenue", ScopeID: "dealer-001", Timestamp: base.Add(2 * time.Hour), Value: 101}
	if err := s.AppendObservation(ctx, dup); err != ErrNonMonotonicTimestamp {
		t.Errorf("expected ErrNonMonotonicTimestamp for equal timestamp, got %v", err)
	}

	// Earlier timestamp must be rejected.
	earlier := &Observation{MetricName: "revenue", ScopeID: "dealer-001", Timestamp: base.Add(-time.Hour), Value: 99}
	if err := s.AppendObservation(ctx, earlier); err != ErrNonMonotonicTimestamp {
		t.Errorf("expected ErrNonMonotonicTimestamp for earlier timestamp, got %v", err)
	}

	// A different series is independent.
	other := &Observation{MetricName: "revenue", ScopeID: "dealer-002", Timestamp: base, Value: 50}
	if err := s.AppendObservation(ctx, other); err != nil {
		t.Errorf("AppendObservation other series: %v", err)
	}
}

func TestLatestObservationsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	values := []float64{100, 102, 98, 101, 35}
	for i, v := range values {
		obs := &Observation{MetricName: "revenue", ScopeID: "dealer-001", Timestamp: base.Add(time.Duration(i) * time.Hour), Value: v}
		if err := s.AppendObservation(ctx, obs); err != nil {
			t.Fatalf("AppendObservation %d: %v", i, err)
		}
	}

	got, err := s.LatestObservations(ctx, "revenue", "dealer-001", 3)
	if err != nil {
		t.Fatalf("LatestObservations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(got))
	}
	// Oldest first, newest three values.
	want := []float64{98, 101, 35}
	for i, o := range got {
		if o.Value != want[i] {
			t.Errorf("observation %d: expected value %.0f, got %.0f", i, want[i], o.Value)
		}
	}

	keys, err := s.ListSeries(ctx)
	if err != nil {
		t.Fatalf("ListSeries: %v", err)
	}
	if len(keys) != 1 || keys[0].MetricName != "revenue" || keys[0].ScopeID != "dealer-001" {
		t.Errorf("unexpected series keys: %+v", keys)
	}
}

// ─── Alerts ───────────────────────────────────────────────────────────────────

func TestAlertLifecyclePersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)
	window := now.Add(-time.Hour)

	rec := &AlertRecord{
		ID:          "alert-001",
		MetricName:  "revenue",
		ScopeID:     "dealer-001",
		Severity:    SeverityHigh,
		Description: "revenue dropped 65% below baseline",
		DetectedAt:  now,
		WindowStart: window,
		Status:      AlertStatusOpen,
	}
	if err := s.InsertAlert(ctx, rec); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	// Open alert is found for the same detection window.
	found, err := s.FindOpenAlert(ctx, "revenue", "dealer-001", window)
	if err != nil {
		t.Fatalf("FindOpenAlert: %v", err)
	}
	if found == nil || found.ID != "alert-001" {
		t.Fatalf("expected to find open alert-001, got %+v", found)
	}

	// A different window has no open alert.
	found, err = s.FindOpenAlert(ctx, "revenue", "dealer-001", window.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindOpenAlert other window: %v", err)
	}
	if found != nil {
		t.Errorf("expected no open alert for other window, got %+v", found)
	}

	// Resolve it; it should no longer count as open.
	resolvedAt := now.Add(time.Minute)
	rec.Status = AlertStatusResolved
	rec.ResolvedAt = &resolvedAt
	if err := s.UpdateAlert(ctx, rec); err != nil {
		t.Fatalf("UpdateAlert: %v", err)
	}
	found, err = s.FindOpenAlert(ctx, "revenue", "dealer-001", window)
	if err != nil {
		t.Fatalf("FindOpenAlert after resolve: %v", err)
	}
	if found != nil {
		t.Errorf("resolved alert still reported open: %+v", found)
	}

	got, err := s.GetAlert(ctx, "alert-001")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.Status != AlertStatusResolved || got.ResolvedAt == nil {
		t.Errorf("expected resolved alert with resolved_at, got %+v", got)
	}

	counts, err := s.CountAlertsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountAlertsByStatus: %v", err)
	}
	if counts[AlertStatusResolved] != 1 {
		t.Errorf("expected 1 resolved alert, got %d", counts[AlertStatusResolved])
	}
}

// ─── Health scores and forecasts ──────────────────────────────────────────────

func TestHealthScoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	rec := &HealthScoreRecord{
		ScopeID:   "dealer-001",
		Score:     82.5,
		ScanTime:  now,
		Breakdown: `{"revenue":{"weight":0.5,"contribution":45.0}}`,
	}
	if err := s.AppendHealthScore(ctx, rec); err != nil {
		t.Fatalf("AppendHealthScore: %v", err)
	}

	got, err := s.LatestHealthScore(ctx, "dealer-001")
	if err != nil {
		t.Fatalf("LatestHealthScore: %v", err)
	}
	if got == nil || got.Score != 82.5 {
		t.Fatalf("expected score 82.5, got %+v", got)
	}

	missing, err := s.LatestHealthScore(ctx, "dealer-404")
	if err != nil {
		t.Fatalf("LatestHealthScore missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown scope, got %+v", missing)
	}
}

func TestForecastRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	rec := &ForecastRecord{
		MetricName:     "revenue",
		ScopeID:        "dealer-001",
		Horizon:        "daily",
		Predicted:      105.0,
		ConfidenceLow:  98.0,
		ConfidenceHigh: 112.0,
		GeneratedAt:    now,
	}
	if err := s.AppendForecast(ctx, rec); err != nil {
		t.Fatalf("AppendForecast: %v", err)
	}

	got, err := s.LatestForecast(ctx, "revenue", "dealer-001")
	if err != nil {
		t.Fatalf("LatestForecast: %v", err)
	}
	if got == nil || got.Predicted != 105.0 {
		t.Fatalf("expected forecast 105.0, got %+v", got)
	}
	if !(got.ConfidenceLow <= got.Predicted && got.Predicted <= got.ConfidenceHigh) {
		t.Errorf("confidence band does not contain the point estimate: %+v", got)
	}
}

// ─── Scan runs ────────────────────────────────────────────────────────────────

func TestScanRunHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	run := &ScanRunRecord{ID: "run-001", ScanType: ScanTypeHourly, StartedAt: now.Add(-2 * time.Hour)}
	if err := s.InsertScanRun(ctx, run); err != nil {
		t.Fatalf("InsertScanRun: %v", err)
	}
	if err := s.FinishScanRun(ctx, "run-001", now.Add(-2*time.Hour).Add(time.Minute), "alerts=2", ""); err != nil {
		t.Fatalf("FinishScanRun: %v", err)
	}

	// A failed run must not count as the last successful one.
	failed := &ScanRunRecord{ID: "run-002", ScanType: ScanTypeHourly, StartedAt: now.Add(-time.Hour)}
	if err := s.InsertScanRun(ctx, failed); err != nil {
		t.Fatalf("InsertScanRun failed run: %v", err)
	}
	if err := s.FinishScanRun(ctx, "run-002", now.Add(-time.Hour).Add(time.Minute), "", "detector: store unavailable"); err != nil {
		t.Fatalf("FinishScanRun failed run: %v", err)
	}

	last, err := s.LastSuccessfulRun(ctx, ScanTypeHourly)
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if last == nil || last.ID != "run-001" {
		t.Fatalf("expected run-001 as last successful, got %+v", last)
	}

	never, err := s.LastSuccessfulRun(ctx, ScanTypeMonthly)
	if err != nil {
		t.Fatalf("LastSuccessfulRun monthly: %v", err)
	}
	if never != nil {
		t.Errorf("expected nil for never-run type, got %+v", never)
	}

	runs, err := s.ListScanRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListScanRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestRecoverInterruptedRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	stuck := &ScanRunRecord{ID: "run-stuck", ScanType: ScanTypeDaily, StartedAt: now.Add(-time.Hour)}
	if err := s.InsertScanRun(ctx, stuck); err != nil {
		t.Fatalf("InsertScanRun: %v", err)
	}

	n, err := s.RecoverInterruptedRuns(ctx)
	if err != nil {
		t.Fatalf("RecoverInterruptedRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recovered run, got %d", n)
	}

	runs, err := s.ListScanRuns(ctx, ScanTypeDaily, 10)
	if err != nil {
		t.Fatalf("ListScanRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].FinishedAt == nil || runs[0].Error == "" {
		t.Errorf("expected recovered run marked finished with error, got %+v", runs[0])
	}
}
