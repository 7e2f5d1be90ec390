package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

type forecaster struct {
	st     store.Store
	cat    *catalog.Catalog
	config Config
	logger *zap.Logger
}

// NewForecaster creates a forecaster with the given policy.
func NewForecaster(st store.Store, cat *catalog.Catalog, cfg Config, logger *zap.Logger) Forecaster {
	if cfg.LookbackPoints <= 0 {
		cfg.LookbackPoints = DefaultConfig().LookbackPoints
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = DefaultConfig().MinPoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &forecaster{st: st, cat: cat, config: cfg, logger: logger}
}

func (f *forecaster) ForecastAll(ctx context.Context, horizon string) ([]*Result, error) {
	keys, err := f.st.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	snap := f.cat.Snapshot()
	var out []*Result
	for _, key := range keys {
		if _, tracked := snap.Lookup(key.MetricName); !tracked {
			continue
		}
		res, err := f.Forecast(ctx, key.MetricName, key.ScopeID, horizon)
		if err != nil {
			f.logger.Warn("forecast failed for series",
				zap.String("metric_name", key.MetricName),
				zap.String("scope_id", key.ScopeID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (f *forecaster) Forecast(ctx context.Context, metricName, scopeID, horizon string) (*Result, error) {
	if horizon == "" {
		horizon = HorizonNextPoint
	}

	obs, err := f.st.LatestObservations(ctx, metricName, scopeID, f.config.LookbackPoints)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}

	res := &Result{
		MetricName:      metricName,
		ScopeID:         scopeID,
		Horizon:         horizon,
		PointsAvailable: len(obs),
		PointsRequired:  f.config.MinPoints,
	}

	if len(obs) < f.config.MinPoints {
		res.InsufficientData = true
		return res, nil
	}

	slope, intercept := linearFit(obs)

	// Project one step past the window.
	n := float64(len(obs))
	predicted := slope*n + intercept

	// Residual spread around the fitted line gives the band width.
	var sq float64
	for i, o := range obs {
		r := o.Value - (slope*float64(i) + intercept)
		sq += r * r
	}
	residualStd := math.Sqrt(sq / n)
	band := 1.96 * residualStd

	res.Predicted = predicted
	res.ConfidenceLow = predicted - band
	res.ConfidenceHigh = predicted + band
	res.Slope = slope
	res.GeneratedAt = time.Now().UTC()

	rec := &store.ForecastRecord{
		MetricName:     metricName,
		ScopeID:        scopeID,
		Horizon:        horizon,
		Predicted:      res.Predicted,
		ConfidenceLow:  res.ConfidenceLow,
		ConfidenceHigh: res.ConfidenceHigh,
		GeneratedAt:    res.GeneratedAt,
	}
	if err := f.st.AppendForecast(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist forecast: %w", err)
	}

	f.logger.Debug("forecast generated",
		zap.String("metric_name", metricName),
		zap.String("scope_id", scopeID),
		zap.String("horizon", horizon),
		zap.Float64("predicted", res.Predicted),
		zap.Float64("slope", slope),
	)

	return res, nil
}

// linearFit returns the least-squares slope and intercept of the window,
// indexing observations 0..n-1 on the x axis.
func linearFit(obs []*store.Observation) (slope, intercept float64) {
	n := float64(len(obs))
	var sumX, sumY, sumXY, sumXX float64
	for i, o := range obs {
		x := float64(i)
		sumX += x
		sumY += o.Value
		sumXY += x * o.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
