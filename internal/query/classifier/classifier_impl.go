package classifier

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/metrics"
)

// signal is one weighted routing phrase. Strong phrases (>= 0.6) classify on
// their own; weak ones need corroboration to clear the threshold.
type signal struct {
	phrase string
	weight float64
}

var intentSignals = map[Intent][]signal{
	IntentDataLookup: {
		{"show", 0.6}, {"list", 0.6}, {"display", 0.6}, {"give me", 0.6},
		{"what is", 0.6}, {"what was", 0.6}, {"what are", 0.6},
		{"trend", 0.3}, {"history", 0.3}, {"over time", 0.3},
		{"values", 0.3}, {"numbers", 0.3},
	},
	IntentKPIAnalysis: {
		{"health", 0.6}, {"forecast", 0.6}, {"predict", 0.6},
		{"projection", 0.6}, {"outlook", 0.6}, {"analyze", 0.6},
		{"performing", 0.6}, {"performance", 0.6},
		{"score", 0.3}, {"how is", 0.3}, {"doing", 0.3},
	},
	IntentRootCause: {
		{"root cause", 0.9}, {"why", 0.6}, {"caused", 0.6},
		{"reason", 0.6}, {"driver", 0.6}, {"drivers", 0.6},
		{"dropped", 0.3}, {"drop", 0.3}, {"decline", 0.3},
		{"fell", 0.3}, {"explain", 0.3}, {"behind", 0.3},
	},
}

// intentPriority breaks score ties: a question that both asks and asks why
// is a why-question.
var intentPriority = map[Intent]int{
	IntentRootCause:   3,
	IntentKPIAnalysis: 2,
	IntentDataLookup:  1,
}

type keywordClassifier struct {
	cat    *catalog.Catalog
	config Config
	logger *zap.Logger
}

// New creates the two-tier classifier.
func New(cat *catalog.Catalog, cfg Config, logger *zap.Logger) Classifier {
	if cfg.KeywordThreshold <= 0 {
		cfg.KeywordThreshold = DefaultConfig().KeywordThreshold
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultConfig().FuzzyThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &keywordClassifier{cat: cat, config: cfg, logger: logger}
}

func (c *keywordClassifier) Classify(ctx context.Context, query string) (*Classification, error) {
	norm := normalize(query)
	tokens := strings.Fields(norm)
	snap := c.cat.Snapshot()

	cls := &Classification{Intent: IntentGeneral, Tier: TierGeneral}

	// Slots extract regardless of tier; a general question about revenue
	// still carries its metric forward.
	cls.Metric = extractMetric(norm, tokens, snap, c.config.FuzzyThreshold)
	cls.Scope = extractScope(norm, snap)
	cls.Window = extractWindow(tokens, c.config.FuzzyThreshold)

	// Tier 1: exact phrase matching.
	if intent, score, phrases := c.scoreKeyword(norm); score >= c.config.KeywordThreshold {
		cls.Intent = intent
		cls.Confidence = score
		cls.Tier = TierKeyword
		cls.MatchedPhrases = phrases
	} else if intent, score, phrases := c.scoreFuzzy(tokens); score >= c.config.KeywordThreshold {
		// Tier 2: edit-distance matching for typos.
		cls.Intent = intent
		cls.Confidence = score
		cls.Tier = TierFuzzy
		cls.MatchedPhrases = phrases
	}

	metrics.ClassifierTier.WithLabelValues(cls.Tier).Inc()
	c.logger.Debug("query classified",
		zap.String("intent", string(cls.Intent)),
		zap.String("tier", cls.Tier),
		zap.Float64("confidence", cls.Confidence),
		zap.String("metric", cls.Metric),
		zap.String("scope", cls.Scope),
		zap.String("window", cls.Window),
	)
	return cls, nil
}

// scoreKeyword scores every intent by exact phrase hits and returns the best.
func (c *keywordClassifier) scoreKeyword(norm string) (Intent, float64, []string) {
	var best Intent
	var bestScore float64
	var bestPhrases []string
	for intent, signals := range intentSignals {
		var score float64
		var phrases []string
		for _, sig := range signals {
			if containsPhrase(norm, sig.phrase) {
				score += sig.weight
				phrases = append(phrases, sig.phrase)
			}
		}
		if score > 1 {
			score = 1
		}
		if score > bestScore ||
			(score == bestScore && score > 0 && intentPriority[intent] > intentPriority[best]) {
			best, bestScore, bestPhrases = intent, score, phrases
		}
	}
	sort.Strings(bestPhrases)
	return best, bestScore, bestPhrases
}

// scoreFuzzy scores single-word signals by best edit-distance similarity
// against the query tokens. A hit counts only above the fuzzy threshold, and
// contributes its weight scaled by the similarity.
func (c *keywordClassifier) scoreFuzzy(tokens []string) (Intent, float64, []string) {
	var best Intent
	var bestScore float64
	var bestPhrases []string
	for intent, signals := range intentSignals {
		var score float64
		var phrases []string
		for _, sig := range signals {
			if strings.Contains(sig.phrase, " ") {
				continue // multi-word phrases are tier-1 only
			}
			sim := bestSimilarity(sig.phrase, tokens)
			if sim >= c.config.FuzzyThreshold {
				score += sig.weight * sim
				phrases = append(phrases, sig.phrase)
			}
		}
		if score > 1 {
			score = 1
		}
		if score > bestScore ||
			(score == bestScore && score > 0 && intentPriority[intent] > intentPriority[best]) {
			best, bestScore, bestPhrases = intent, score, phrases
		}
	}
	sort.Strings(bestPhrases)
	return best, bestScore, bestPhrases
}

// extractMetric resolves a metric reference via the catalog alias index:
// exact phrase presence first, then fuzzy single-token matching.
func extractMetric(norm string, tokens []string, snap *catalog.Snapshot, fuzzyThreshold float64) string {
	index := snap.AliasIndex()

	// Longest alias first so "gross margin" beats "margin".
	aliases := make([]string, 0, len(index))
	for alias := range index {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool { return len(aliases[i]) > len(aliases[j]) })

	for _, alias := range aliases {
		if containsPhrase(norm, alias) {
			return index[alias]
		}
	}

	// Fuzzy pass for typoed single-word references.
	var bestName string
	var bestSim float64
	for _, alias := range aliases {
		if strings.Contains(alias, " ") {
			continue
		}
		if sim := bestSimilarity(alias, tokens); sim >= fuzzyThreshold && sim > bestSim {
			bestSim, bestName = sim, index[alias]
		}
	}
	return bestName
}

// extractScope finds a known scope ID mentioned in the query.
func extractScope(norm string, snap *catalog.Snapshot) string {
	for _, scope := range snap.Scopes() {
		s := strings.ToLower(scope)
		if strings.Contains(norm, s) {
			return scope
		}
		// "dealer 001" for "dealer-001".
		if strings.Contains(norm, strings.ReplaceAll(s, "-", " ")) {
			return scope
		}
	}
	return ""
}

var windowVocab = map[string]string{
	"hourly": WindowHourly, "hour": WindowHourly,
	"daily": WindowDaily, "day": WindowDaily, "today": WindowDaily, "yesterday": WindowDaily,
	"weekly": WindowWeekly, "week": WindowWeekly,
	"monthly": WindowMonthly, "month": WindowMonthly,
}

// extractWindow resolves a time-window reference, tolerating typos.
func extractWindow(tokens []string, fuzzyThreshold float64) string {
	for _, tok := range tokens {
		if w, ok := windowVocab[tok]; ok {
			return w
		}
	}
	var bestWindow string
	var bestSim float64
	for word, window := range windowVocab {
		if sim := bestSimilarity(word, tokens); sim >= fuzzyThreshold && sim > bestSim {
			bestSim, bestWindow = sim, window
		}
	}
	return bestWindow
}

// containsPhrase reports whether norm contains phrase on word boundaries.
func containsPhrase(norm, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(norm[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		startOK := start == 0 || norm[start-1] == ' '
		endOK := end == len(norm) || norm[end] == ' '
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

// bestSimilarity returns the highest normalized edit-distance similarity
// between word and any token.
func bestSimilarity(word string, tokens []string) float64 {
	var best float64
	for _, tok := range tokens {
		if sim := similarity(word, tok); sim > best {
			best = sim
		}
	}
	return best
}

// similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a single rolling row.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// normalize lowercases and strips punctuation that would break phrase
// matching, keeping hyphens for scope IDs.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == ' ', r == '_', r == '%':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
