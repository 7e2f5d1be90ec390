package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/metrics"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/anomaly"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/forecast"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/health"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/rootcause"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// Pipelines bundles the analysis stages the scheduler drives.
type Pipelines struct {
	Detector   anomaly.Detector
	Scorer     health.Scorer
	Forecaster forecast.Forecaster
	Analyzer   rootcause.Analyzer
	Catalog    *catalog.Catalog
}

type scheduler struct {
	st        store.Store
	pipelines Pipelines
	config    Config
	audit     audit.Logger
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]bool // scan type -> in flight

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	started    bool
	wg         sync.WaitGroup
}

// New creates a scheduler over the store and analysis pipelines.
func New(st store.Store, p Pipelines, cfg Config, auditLog audit.Logger, logger *zap.Logger) Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &scheduler{
		st:        st,
		pipelines: p,
		config:    cfg,
		audit:     auditLog,
		logger:    logger,
		running:   make(map[string]bool),
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	recovered, err := s.st.RecoverInterruptedRuns(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn("recovered interrupted scan runs", zap.Int("count", recovered))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})

	go s.loop(loopCtx)
	return nil
}

func (s *scheduler) Stop() {
	s.mu.Lock()
	cancel := s.loopCancel
	done := s.loopDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()
}

func (s *scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	// First cadence check immediately, not after a full tick.
	s.runDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue launches every scan type whose cadence has elapsed since its last
// successful run. Each due scan runs in its own goroutine so a slow monthly
// scan never delays the hourly one.
func (s *scheduler) runDue(ctx context.Context) {
	for scanType, cadence := range cadences {
		due, err := s.isDue(ctx, scanType, cadence)
		if err != nil {
			s.logger.Error("cadence check failed",
				zap.String("scan_type", scanType),
				zap.Error(err),
			)
			continue
		}
		if !due {
			continue
		}

		st := scanType
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.execute(ctx, st); err != nil && err != ErrScanAlreadyRunning {
				s.logger.Error("scheduled scan failed",
					zap.String("scan_type", st),
					zap.Error(err),
				)
			}
		}()
	}
}

// isDue judges cadence from persisted history: due when the type has never
// succeeded, or the cadence elapsed since the last success started.
func (s *scheduler) isDue(ctx context.Context, scanType string, cadence time.Duration) (bool, error) {
	last, err := s.st.LastSuccessfulRun(ctx, scanType)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return time.Since(last.StartedAt) >= cadence, nil
}

func (s *scheduler) Trigger(ctx context.Context, scanType string) (*store.ScanRunRecord, error) {
	if _, ok := cadences[scanType]; !ok && scanType != store.ScanTypeManual {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScanType, scanType)
	}
	return s.execute(ctx, scanType)
}

// execute runs one scan end to end: acquire the type marker, record the run,
// drive the pipeline, finish the run. The marker guarantees per-type mutual
// exclusion.
func (s *scheduler) execute(ctx context.Context, scanType string) (*store.ScanRunRecord, error) {
	s.mu.Lock()
	if s.running[scanType] {
		s.mu.Unlock()
		metrics.ScansTotal.WithLabelValues(scanType, "rejected").Inc()
		if s.audit != nil {
			_ = s.audit.LogScanRejected(ctx, scanType)
		}
		return nil, ErrScanAlreadyRunning
	}
	s.running[scanType] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, scanType)
		s.mu.Unlock()
	}()

	rec := &store.ScanRunRecord{
		ID:        uuid.New().String(),
		ScanType:  scanType,
		StartedAt: time.Now().UTC(),
	}
	if err := s.st.InsertScanRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("record scan start: %w", err)
	}
	if s.audit != nil {
		_ = s.audit.LogScanStarted(ctx, rec.ID, scanType)
	}
	s.logger.Info("scan started",
		zap.String("run_id", rec.ID),
		zap.String("scan_type", scanType),
	)

	summary, runErr := s.runPipeline(ctx, scanType)

	// Cancellation mid-scan is an interruption, not a pipeline failure.
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("interrupted: %w", ctx.Err())
	}

	finished := time.Now().UTC()
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	// Finish with a fresh context: the scan's own context may be the thing
	// that was cancelled.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.st.FinishScanRun(finishCtx, rec.ID, finished, summary, errMsg); err != nil {
		s.logger.Error("failed to finish scan run",
			zap.String("run_id", rec.ID),
			zap.Error(err),
		)
	}
	rec.FinishedAt = &finished
	rec.ResultSummary = summary
	rec.Error = errMsg

	duration := finished.Sub(rec.StartedAt)
	metrics.ScanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
	if runErr != nil {
		metrics.ScansTotal.WithLabelValues(scanType, "failure").Inc()
		if s.audit != nil {
			_ = s.audit.LogScanFailed(finishCtx, rec.ID, scanType, runErr)
		}
		s.logger.Error("scan failed",
			zap.String("run_id", rec.ID),
			zap.String("scan_type", scanType),
			zap.Error(runErr),
		)
		return rec, runErr
	}

	metrics.ScansTotal.WithLabelValues(scanType, "success").Inc()
	if s.audit != nil {
		_ = s.audit.LogScanCompleted(finishCtx, rec.ID, scanType, summary, duration)
	}
	s.logger.Info("scan completed",
		zap.String("run_id", rec.ID),
		zap.String("scan_type", scanType),
		zap.Duration("duration", duration),
		zap.String("summary", summary),
	)
	return rec, nil
}

// runPipeline dispatches to the per-type analysis pipeline. Panics become
// errors on the run record.
func (s *scheduler) runPipeline(ctx context.Context, scanType string) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	if err := s.pipelines.Catalog.Refresh(ctx); err != nil {
		metrics.CatalogRefreshTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("refresh catalog: %w", err)
	}
	metrics.CatalogRefreshTotal.WithLabelValues("success").Inc()

	switch scanType {
	case store.ScanTypeHourly, store.ScanTypeManual:
		return s.anomalyPass(ctx)
	case store.ScanTypeDaily:
		return s.dailyPass(ctx)
	case store.ScanTypeWeekly:
		return s.longHorizonPass(ctx, forecast.HorizonNextWeek)
	case store.ScanTypeMonthly:
		return s.longHorizonPass(ctx, forecast.HorizonNextMonth)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownScanType, scanType)
	}
}

// anomalyPass sweeps every tracked series for outliers.
func (s *scheduler) anomalyPass(ctx context.Context) (string, error) {
	res, err := s.pipelines.Detector.Scan(ctx, "")
	if err != nil {
		return "", fmt.Errorf("anomaly scan: %w", err)
	}
	return fmt.Sprintf("scanned %d series, %d new alerts, %d suppressed",
		res.SeriesScanned, res.AlertsCreated, res.Suppressed), nil
}

// dailyPass scores every scope, forecasts every series, and decomposes the
// metrics that moved materially.
func (s *scheduler) dailyPass(ctx context.Context) (string, error) {
	scores, err := s.pipelines.Scorer.ScoreAll(ctx)
	if err != nil {
		return "", fmt.Errorf("health scoring: %w", err)
	}

	forecasts, err := s.pipelines.Forecaster.ForecastAll(ctx, forecast.HorizonNextPoint)
	if err != nil {
		return "", fmt.Errorf("forecasting: %w", err)
	}

	var material []string
	for _, def := range s.pipelines.Catalog.Snapshot().Metrics() {
		analysis, err := s.pipelines.Analyzer.Analyze(ctx, def.Name)
		if err != nil {
			// Sparse metrics are expected; skip, don't fail the scan.
			s.logger.Debug("root-cause decomposition skipped",
				zap.String("metric_name", def.Name),
				zap.Error(err),
			)
			continue
		}
		if !analysis.NoMaterialChange {
			material = append(material, def.Name)
		}
	}
	sort.Strings(material)

	return fmt.Sprintf("scored %d scopes, forecast %d series, %d metrics moved materially",
		len(scores), len(forecasts), len(material)), nil
}

// longHorizonPass forecasts every series at a week or month horizon.
func (s *scheduler) longHorizonPass(ctx context.Context, horizon string) (string, error) {
	forecasts, err := s.pipelines.Forecaster.ForecastAll(ctx, horizon)
	if err != nil {
		return "", fmt.Errorf("forecasting: %w", err)
	}
	insufficient := 0
	for _, f := range forecasts {
		if f.InsufficientData {
			insufficient++
		}
	}
	return fmt.Sprintf("forecast %d series at %s horizon, %d with insufficient history",
		len(forecasts), horizon, insufficient), nil
}

func (s *scheduler) Status(ctx context.Context) (*Status, error) {
	s.mu.Lock()
	started := s.started
	runningCopy := make(map[string]bool, len(s.running))
	for k, v := range s.running {
		runningCopy[k] = v
	}
	s.mu.Unlock()

	status := &Status{SchedulerRunning: started}
	types := []string{
		store.ScanTypeHourly, store.ScanTypeDaily,
		store.ScanTypeWeekly, store.ScanTypeMonthly, store.ScanTypeManual,
	}
	for _, scanType := range types {
		ts := TypeStatus{ScanType: scanType, Running: runningCopy[scanType]}

		runs, err := s.st.ListScanRuns(ctx, scanType, 1)
		if err != nil {
			return nil, fmt.Errorf("list runs for %s: %w", scanType, err)
		}
		if len(runs) > 0 {
			ts.LastRun = runs[0]
		}

		if cadence, ok := cadences[scanType]; ok {
			last, err := s.st.LastSuccessfulRun(ctx, scanType)
			if err != nil {
				return nil, fmt.Errorf("last success for %s: %w", scanType, err)
			}
			if last == nil {
				ts.NextDue = time.Now().UTC()
			} else {
				ts.NextDue = last.StartedAt.Add(cadence)
			}
		}
		status.Types = append(status.Types, ts)
	}
	return status, nil
}
