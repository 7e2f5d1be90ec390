package rootcause

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

type analyzer struct {
	st     store.Store
	config Config
	logger *zap.Logger
}

// NewAnalyzer creates a root-cause analyzer with the given policy.
func NewAnalyzer(st store.Store, cfg Config, logger *zap.Logger) Analyzer {
	if cfg.PeriodPoints <= 0 {
		cfg.PeriodPoints = DefaultConfig().PeriodPoints
	}
	if cfg.MaterialChangePct <= 0 {
		cfg.MaterialChangePct = DefaultConfig().MaterialChangePct
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &analyzer{st: st, config: cfg, logger: logger}
}

func (a *analyzer) Analyze(ctx context.Context, metricName string) (*Analysis, error) {
	keys, err := a.st.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	analysis := &Analysis{
		MetricName:   metricName,
		PeriodPoints: a.config.PeriodPoints,
	}

	n := a.config.PeriodPoints
	var contributors []Contributor
	for _, key := range keys {
		if key.MetricName != metricName {
			continue
		}
		obs, err := a.st.LatestObservations(ctx, metricName, key.ScopeID, 2*n)
		if err != nil {
			return nil, fmt.Errorf("load window for %s: %w", key.ScopeID, err)
		}
		if len(obs) < 2*n {
			analysis.ScopesSkipped = append(analysis.ScopesSkipped, key.ScopeID)
			continue
		}

		prior := meanValue(obs[:n])
		current := meanValue(obs[n:])
		c := Contributor{
			ScopeID: key.ScopeID,
			Prior:   prior,
			Current: current,
			Delta:   current - prior,
		}
		if prior != 0 {
			c.DeltaPct = c.Delta / math.Abs(prior)
		}
		contributors = append(contributors, c)
		analysis.TotalPrior += prior
		analysis.TotalCurrent += current
	}
	sort.Strings(analysis.ScopesSkipped)

	if len(contributors) == 0 {
		return nil, fmt.Errorf("no scope has %d points in both periods for %s", n, metricName)
	}

	analysis.TotalDelta = analysis.TotalCurrent - analysis.TotalPrior
	if analysis.TotalPrior != 0 {
		analysis.TotalDeltaPct = analysis.TotalDelta / math.Abs(analysis.TotalPrior)
	}

	if math.Abs(analysis.TotalDeltaPct) < a.config.MaterialChangePct {
		analysis.NoMaterialChange = true
		a.logger.Debug("no material aggregate movement",
			zap.String("metric_name", metricName),
			zap.Float64("total_delta_pct", analysis.TotalDeltaPct),
		)
		return analysis, nil
	}

	var totalAbs float64
	for _, c := range contributors {
		totalAbs += math.Abs(c.Delta)
	}
	if totalAbs > 0 {
		for i := range contributors {
			contributors[i].ImpactShare = math.Abs(contributors[i].Delta) / totalAbs
		}
	}

	sort.Slice(contributors, func(i, j int) bool {
		if contributors[i].ImpactShare != contributors[j].ImpactShare {
			return contributors[i].ImpactShare > contributors[j].ImpactShare
		}
		return contributors[i].ScopeID < contributors[j].ScopeID
	})
	analysis.Contributors = contributors

	return analysis, nil
}

func meanValue(obs []*store.Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range obs {
		sum += o.Value
	}
	return sum / float64(len(obs))
}
