package classifier

import "context"

// Package classifier routes natural-language questions to an intent without
// calling a language model.
//
// Classification is two-tier and fully deterministic:
//
//	Tier 1 (keyword): weighted signal phrases per intent. A strong phrase
//	("show me", "why did") is decisive on its own; weak phrases need
//	corroboration. The best intent wins when its score clears the keyword
//	threshold.
//
//	Tier 2 (fuzzy): the same signal phrases matched by normalized edit
//	distance, so typos ("sho revnue trnd") still route. A fuzzy hit counts
//	only when its similarity clears the fuzzy threshold.
//
// Anything below both thresholds is general: the question still gets a full
// response envelope, just without a specialized agent behind it.
//
// Slot extraction runs on every query regardless of tier: metric references
// resolve through the catalog's alias index, scopes through the known scope
// set, and time windows through a fixed vocabulary.

// Intent is the routed question category.
type Intent string

const (
	// IntentDataLookup asks for raw numbers: values, trends, histories.
	IntentDataLookup Intent = "data_lookup"
	// IntentKPIAnalysis asks for interpretation: health, forecasts, performance.
	IntentKPIAnalysis Intent = "kpi_analysis"
	// IntentRootCause asks why something moved.
	IntentRootCause Intent = "root_cause"
	// IntentGeneral is the fallback for everything else.
	IntentGeneral Intent = "general"
)

// Tier names which stage resolved the query.
const (
	TierKeyword = "keyword"
	TierFuzzy   = "fuzzy"
	TierGeneral = "general"
)

// Window vocabulary for slot extraction.
const (
	WindowHourly  = "hourly"
	WindowDaily   = "daily"
	WindowWeekly  = "weekly"
	WindowMonthly = "monthly"
)

// Config holds classifier thresholds.
type Config struct {
	// KeywordThreshold is the minimum tier-1 score (0..1) to classify.
	KeywordThreshold float64
	// FuzzyThreshold is the minimum tier-2 token similarity (0..1) for a
	// fuzzy phrase hit to count.
	FuzzyThreshold float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{KeywordThreshold: 0.50, FuzzyThreshold: 0.72}
}

// Classification is the routing decision for one query.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Tier       string  `json:"tier"`

	// Extracted slots; empty when not present in the query.
	Metric string `json:"metric,omitempty"` // canonical metric name
	Scope  string `json:"scope,omitempty"`  // known scope ID
	Window string `json:"window,omitempty"` // hourly | daily | weekly | monthly

	// MatchedPhrases lists the signal phrases that drove the decision.
	MatchedPhrases []string `json:"matched_phrases,omitempty"`
}

// Classifier routes one query to an intent and extracts its slots.
type Classifier interface {
	Classify(ctx context.Context, query string) (*Classification, error)
}
