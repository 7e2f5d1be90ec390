package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/metrics"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// detector implements Detector over the persistence layer.
type detector struct {
	st     store.Store
	cat    *catalog.Catalog
	config Config
	logger *zap.Logger
}

// NewDetector creates a detector with the given policy.
func NewDetector(st store.Store, cat *catalog.Catalog, cfg Config, logger *zap.Logger) Detector {
	if cfg.ZScoreThreshold <= 0 {
		cfg.ZScoreThreshold = DefaultConfig().ZScoreThreshold
	}
	if cfg.HighDeviationPct <= 0 {
		cfg.HighDeviationPct = DefaultConfig().HighDeviationPct
	}
	if cfg.MediumDeviationPct <= 0 {
		cfg.MediumDeviationPct = DefaultConfig().MediumDeviationPct
	}
	if cfg.LookbackPoints <= 0 {
		cfg.LookbackPoints = DefaultConfig().LookbackPoints
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = DefaultConfig().MinPoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &detector{st: st, cat: cat, config: cfg, logger: logger}
}

// Scan scans one metric or every tracked series.
func (d *detector) Scan(ctx context.Context, metricName string) (*ScanResult, error) {
	keys, err := d.st.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	snap := d.cat.Snapshot()
	result := &ScanResult{}

	for _, key := range keys {
		if metricName != "" && key.MetricName != metricName {
			continue
		}
		if _, tracked := snap.Lookup(key.MetricName); !tracked {
			continue
		}
		result.SeriesScanned++

		finding, err := d.scanSeries(ctx, key)
		if err != nil {
			// One broken series must not sink the whole scan.
			d.logger.Warn("anomaly scan failed for series",
				zap.String("metric_name", key.MetricName),
				zap.String("scope_id", key.ScopeID),
				zap.Error(err),
			)
			continue
		}
		if finding == nil {
			continue
		}

		result.Findings = append(result.Findings, *finding)
		if finding.Suppressed {
			result.Suppressed++
		} else {
			result.AlertsCreated++
			metrics.AnomaliesDetected.WithLabelValues(finding.MetricName, finding.Severity).Inc()
		}
	}

	return result, nil
}

// scanSeries evaluates the newest point of one series against its trailing
// baseline. Returns nil when the point is unremarkable.
func (d *detector) scanSeries(ctx context.Context, key store.SeriesKey) (*Finding, error) {
	obs, err := d.st.LatestObservations(ctx, key.MetricName, key.ScopeID, d.config.LookbackPoints)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	if len(obs) < d.config.MinPoints {
		return nil, nil
	}

	newest := obs[len(obs)-1]
	baseline := obs[:len(obs)-1] // newest excluded from its own baseline

	mean, spread := meanStd(baseline)

	deviationPct := relativeDeviation(newest.Value, mean)
	zScore := 0.0
	if spread > 0 {
		zScore = (newest.Value - mean) / spread
	}

	flagged := deviationPct > d.config.MediumDeviationPct ||
		(spread > 0 && math.Abs(zScore) > d.config.ZScoreThreshold)
	if !flagged {
		return nil, nil
	}

	severity := store.SeverityLow
	switch {
	case deviationPct >= d.config.HighDeviationPct:
		severity = store.SeverityHigh
	case deviationPct >= d.config.MediumDeviationPct:
		severity = store.SeverityMedium
	}

	finding := &Finding{
		MetricName:   key.MetricName,
		ScopeID:      key.ScopeID,
		Severity:     severity,
		Value:        newest.Value,
		Baseline:     mean,
		Spread:       spread,
		DeviationPct: deviationPct,
		ZScore:       zScore,
		Timestamp:    newest.Timestamp,
		WindowStart:  newest.Timestamp,
		Description: fmt.Sprintf("%s for %s moved to %.2f against a baseline of %.2f (%.0f%% deviation)",
			key.MetricName, key.ScopeID, newest.Value, mean, deviationPct*100),
	}

	// Rerun idempotence: an open alert for the same window suppresses a new one.
	existing, err := d.st.FindOpenAlert(ctx, key.MetricName, key.ScopeID, finding.WindowStart)
	if err != nil {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}
	if existing != nil {
		finding.AlertID = existing.ID
		finding.Suppressed = true
		return finding, nil
	}

	rec := &store.AlertRecord{
		ID:          uuid.New().String(),
		MetricName:  key.MetricName,
		ScopeID:     key.ScopeID,
		Severity:    severity,
		Description: finding.Description,
		DetectedAt:  time.Now().UTC(),
		WindowStart: finding.WindowStart,
		Status:      store.AlertStatusOpen,
	}
	if err := d.st.InsertAlert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	finding.AlertID = rec.ID

	d.logger.Info("anomaly detected",
		zap.String("alert_id", rec.ID),
		zap.String("metric_name", key.MetricName),
		zap.String("scope_id", key.ScopeID),
		zap.String("severity", severity),
		zap.Float64("value", newest.Value),
		zap.Float64("baseline", mean),
		zap.Float64("deviation_pct", deviationPct),
	)

	return finding, nil
}

// meanStd returns the mean and population standard deviation of the window.
func meanStd(obs []*store.Observation) (float64, float64) {
	if len(obs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, o := range obs {
		sum += o.Value
	}
	mean := sum / float64(len(obs))

	var sq float64
	for _, o := range obs {
		d := o.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(obs)))
}

// relativeDeviation is |value-baseline|/|baseline|. A zero baseline with a
// nonzero value counts as total (100%) deviation.
func relativeDeviation(value, baseline float64) float64 {
	if baseline == 0 {
		if value == 0 {
			return 0
		}
		return 1.0
	}
	return math.Abs(value-baseline) / math.Abs(baseline)
}
