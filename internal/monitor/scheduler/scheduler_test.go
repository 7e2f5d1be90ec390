package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/config"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/anomaly"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/forecast"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/health"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// blockingDetector parks Scan until released, so tests can hold a scan in
// flight deterministically.
type blockingDetector struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingDetector() *blockingDetector {
	return &blockingDetector{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (d *blockingDetector) Scan(ctx context.Context, metricName string) (*anomaly.ScanResult, error) {
	d.entered <- struct{}{}
	<-d.release
	return &anomaly.ScanResult{SeriesScanned: 1}, nil
}

type panicDetector struct{}

func (panicDetector) Scan(ctx context.Context, metricName string) (*anomaly.ScanResult, error) {
	panic("index out of range in window math")
}

type nopScorer struct{}

func (nopScorer) ScoreScope(ctx context.Context, scopeID string) (*health.ScopeHealth, error) {
	return &health.ScopeHealth{ScopeID: scopeID}, nil
}
func (nopScorer) ScoreAll(ctx context.Context) ([]*health.ScopeHealth, error) { return nil, nil }

type nopForecaster struct{}

func (nopForecaster) Forecast(ctx context.Context, metricName, scopeID, horizon string) (*forecast.Result, error) {
	return &forecast.Result{MetricName: metricName, ScopeID: scopeID, Horizon: horizon}, nil
}
func (nopForecaster) ForecastAll(ctx context.Context, horizon string) ([]*forecast.Result, error) {
	return nil, nil
}

type nopAnalyzer struct{}

func (nopAnalyzer) Analyze(ctx context.Context, metricName string) (*rootcause.Analysis, error) {
	return &rootcause.Analysis{MetricName: metricName, NoMaterialChange: true}, nil
}

func newTestScheduler(t *testing.T, det anomaly.Detector) (Scheduler, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cat := catalog.New(s, config.DefaultMetricPolicies())
	p := Pipelines{
		Detector:   det,
		Scorer:     nopScorer{},
		Forecaster: nopForecaster{},
		Analyzer:   nopAnalyzer{},
		Catalog:    cat,
	}
	return New(s, p, Config{TickInterval: time.Hour}, audit.NewNopLogger(), zap.NewNop()), s
}

func TestConcurrentTriggerRejected(t *testing.T) {
	det := newBlockingDetector()
	sched, _ := newTestScheduler(t, det)

	firstDone := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), store.ScanTypeManual)
		firstDone <- err
	}()
	<-det.entered // first scan is in flight

	// Second manual trigger while the first runs is rejected.
	_, err := sched.Trigger(context.Background(), store.ScanTypeManual)
	if !errors.Is(err, ErrScanAlreadyRunning) {
		t.Fatalf("expected ErrScanAlreadyRunning, got %v", err)
	}

	close(det.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}

	// The type is free again once the first scan finishes.
	rec, err := sched.Trigger(context.Background(), store.ScanTypeManual)
	if err != nil {
		t.Fatalf("post-completion trigger failed: %v", err)
	}
	if rec.Error != "" {
		t.Errorf("clean run carries an error: %q", rec.Error)
	}
}

func TestDifferentTypesOverlap(t *testing.T) {
	det := newBlockingDetector()
	sched, _ := newTestScheduler(t, det)

	manualDone := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), store.ScanTypeManual)
		manualDone <- err
	}()
	<-det.entered

	// A daily scan may run while the manual one is in flight.
	if _, err := sched.Trigger(context.Background(), store.ScanTypeDaily); err != nil {
		t.Fatalf("daily trigger during manual scan failed: %v", err)
	}

	close(det.release)
	if err := <-manualDone; err != nil {
		t.Fatalf("manual trigger failed: %v", err)
	}
}

func TestPanicCapturedOnRunRecord(t *testing.T) {
	sched, s := newTestScheduler(t, panicDetector{})

	_, err := sched.Trigger(context.Background(), store.ScanTypeManual)
	if err == nil || !strings.Contains(err.Error(), "pipeline panic") {
		t.Fatalf("expected pipeline panic error, got %v", err)
	}

	runs, err := s.ListScanRuns(context.Background(), store.ScanTypeManual, 1)
	if err != nil {
		t.Fatalf("ListScanRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].FinishedAt == nil || !strings.Contains(runs[0].Error, "pipeline panic") {
		t.Errorf("panic not recorded on run: %+v", runs[0])
	}

	// The engine survives the panic; the type is released.
	if _, err := sched.Trigger(context.Background(), store.ScanTypeManual); err == nil {
		t.Error("expected the panic pipeline to fail again, got nil")
	}
}

func TestCancellationMarksInterrupted(t *testing.T) {
	det := newBlockingDetector()
	sched, s := newTestScheduler(t, det)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(ctx, store.ScanTypeManual)
		done <- err
	}()
	<-det.entered

	cancel()
	close(det.release)

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "interrupted") {
		t.Fatalf("expected interrupted error, got %v", err)
	}

	runs, err := s.ListScanRuns(context.Background(), store.ScanTypeManual, 1)
	if err != nil {
		t.Fatalf("ListScanRuns: %v", err)
	}
	if len(runs) != 1 || !strings.Contains(runs[0].Error, "interrupted") {
		t.Errorf("interruption not recorded: %+v", runs)
	}
}

func TestCadenceJudgedFromHistory(t *testing.T) {
	det := newBlockingDetector()
	close(det.release) // never block
	schedIface, s := newTestScheduler(t, det)
	sched := schedIface.(*scheduler)

	// Never-succeeded type is due immediately.
	due, err := sched.isDue(context.Background(), store.ScanTypeHourly, time.Hour)
	if err != nil {
		t.Fatalf("isDue: %v", err)
	}
	if !due {
		t.Error("type with no history should be due")
	}

	// A recent success within the cadence window suppresses the run, even
	// though this process never executed it (restart idempotence).
	now := time.Now().UTC()
	rec := &store.ScanRunRecord{ID: "prior-run", ScanType: store.ScanTypeHourly, StartedAt: now.Add(-10 * time.Minute)}
	if err := s.InsertScanRun(context.Background(), rec); err != nil {
		t.Fatalf("InsertScanRun: %v", err)
	}
	if err := s.FinishScanRun(context.Background(), rec.ID, now.Add(-9*time.Minute), "ok", ""); err != nil {
		t.Fatalf("FinishScanRun: %v", err)
	}

	due, err = sched.isDue(context.Background(), store.ScanTypeHourly, time.Hour)
	if err != nil {
		t.Fatalf("isDue: %v", err)
	}
	if due {
		t.Error("cadence inside the window should not be due")
	}

	// A failed newer run does not reset the cadence clock.
	fail := &store.ScanRunRecord{ID: "failed-run", ScanType: store.ScanTypeHourly, StartedAt: now.Add(-5 * time.Minute)}
	if err := s.InsertScanRun(context.Background(), fail); err != nil {
		t.Fatalf("InsertScanRun: %v", err)
	}
	if err := s.FinishScanRun(context.Background(), fail.ID, now.Add(-4*time.Minute), "", "boom"); err != nil {
		t.Fatalf("FinishScanRun: %v", err)
	}

	last, err := s.LastSuccessfulRun(context.Background(), store.ScanTypeHourly)
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if last == nil || last.ID != "prior-run" {
		t.Errorf("cadence should anchor on the last success, got %+v", last)
	}
}

func TestStartRecoversInterruptedRuns(t *testing.T) {
	det := newBlockingDetector()
	close(det.release)
	sched, s := newTestScheduler(t, det)

	// A run left unfinished by a crash.
	stale := &store.ScanRunRecord{
		ID:        "stale-run",
		ScanType:  store.ScanTypeDaily,
		StartedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	if err := s.InsertScanRun(context.Background(), stale); err != nil {
		t.Fatalf("InsertScanRun: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	runs, err := s.ListScanRuns(context.Background(), store.ScanTypeDaily, 10)
	if err != nil {
		t.Fatalf("ListScanRuns: %v", err)
	}
	var found *store.ScanRunRecord
	for _, r := range runs {
		if r.ID == "stale-run" {
			found = r
		}
	}
	if found == nil || found.FinishedAt == nil || found.Error == "" {
		t.Errorf("stale run not recovered: %+v", found)
	}
}

func TestStatusReportsRunningType(t *testing.T) {
	det := newBlockingDetector()
	sched, _ := newTestScheduler(t, det)

	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), store.ScanTypeManual)
		done <- err
	}()
	<-det.entered

	status, err := sched.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	var manual *TypeStatus
	for i := range status.Types {
		if status.Types[i].ScanType == store.ScanTypeManual {
			manual = &status.Types[i]
		}
	}
	if manual == nil || !manual.Running {
		t.Errorf("manual type should report running: %+v", status.Types)
	}

	close(det.release)
	if err := <-done; err != nil {
		t.Fatalf("Trigger: %v", err)
	}
}

func TestUnknownScanTypeRejected(t *testing.T) {
	det := newBlockingDetector()
	close(det.release)
	sched, _ := newTestScheduler(t, det)

	if _, err := sched.Trigger(context.Background(), "fortnightly"); !errors.Is(err, ErrUnknownScanType) {
		t.Errorf("expected ErrUnknownScanType, got %v", err)
	}
}
