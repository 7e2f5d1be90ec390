package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

type scorer struct {
	st     store.Store
	cat    *catalog.Catalog
	logger *zap.Logger
}

// NewScorer creates a health scorer over the store and catalog.
func NewScorer(st store.Store, cat *catalog.Catalog, logger *zap.Logger) Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &scorer{st: st, cat: cat, logger: logger}
}

func (s *scorer) ScoreAll(ctx context.Context) ([]*ScopeHealth, error) {
	snap := s.cat.Snapshot()
	var out []*ScopeHealth
	for _, scopeID := range snap.Scopes() {
		h, err := s.ScoreScope(ctx, scopeID)
		if err != nil {
			s.logger.Warn("health scoring failed for scope",
				zap.String("scope_id", scopeID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *scorer) ScoreScope(ctx context.Context, scopeID string) (*ScopeHealth, error) {
	snap := s.cat.Snapshot()
	defs := snap.Metrics()
	if len(defs) == 0 {
		return nil, fmt.Errorf("no metrics configured")
	}

	health := &ScopeHealth{
		ScopeID:  scopeID,
		ScanTime: time.Now().UTC(),
	}

	// First pass: collect the newest value per metric; track what is missing.
	type present struct {
		def   catalog.MetricDef
		value float64
	}
	var available []present
	var availableWeight float64
	for _, def := range defs {
		obs, err := s.st.LatestObservations(ctx, def.Name, scopeID, 1)
		if err != nil {
			return nil, fmt.Errorf("latest %s: %w", def.Name, err)
		}
		if len(obs) == 0 {
			health.MissingMetrics = append(health.MissingMetrics, def.Name)
			continue
		}
		available = append(available, present{def: def, value: obs[0].Value})
		availableWeight += def.Weight
	}

	if len(available) == 0 {
		return nil, fmt.Errorf("no observations for scope %s", scopeID)
	}
	if availableWeight <= 0 {
		return nil, fmt.Errorf("available metric weights sum to zero for scope %s", scopeID)
	}

	// Second pass: renormalized weights, per-metric attainment, composite.
	var composite float64
	for _, p := range available {
		weight := p.def.Weight / availableWeight
		score := attainmentScore(p.value, p.def.Target, p.def.LowerBetter())
		ms := MetricScore{
			MetricName:   p.def.Name,
			Value:        p.value,
			Target:       p.def.Target,
			Weight:       weight,
			Score:        score,
			Contribution: weight * score,
		}
		composite += ms.Contribution
		health.Metrics = append(health.Metrics, ms)
	}
	health.Score = clamp(composite, 0, 100)

	breakdown, err := json.Marshal(health.Metrics)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	rec := &store.HealthScoreRecord{
		ScopeID:   scopeID,
		Score:     health.Score,
		ScanTime:  health.ScanTime,
		Breakdown: string(breakdown),
	}
	if err := s.st.AppendHealthScore(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist health score: %w", err)
	}

	s.logger.Debug("health score computed",
		zap.String("scope_id", scopeID),
		zap.Float64("score", health.Score),
		zap.Int("metrics", len(health.Metrics)),
		zap.Strings("missing", health.MissingMetrics),
	)

	return health, nil
}

// attainmentScore maps a value against its target onto 0-100. For
// higher_better metrics attainment is value/target; for lower_better metrics
// it is target/value, so falling below target improves the score.
func attainmentScore(value, target float64, lowerBetter bool) float64 {
	if target <= 0 {
		return 0
	}
	var ratio float64
	if lowerBetter {
		if value <= 0 {
			// At or below zero on a lower-is-better metric is perfect.
			return 100
		}
		ratio = target / value
	} else {
		if value <= 0 {
			return 0
		}
		ratio = value / target
	}
	return clamp(ratio*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
