package config

import (
	"fmt"
	"math"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.QueryRatePerMin < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.query_rate_per_min",
			Message: fmt.Sprintf("query_rate_per_min must not be negative, got %d", c.Server.QueryRatePerMin),
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate LLM configuration
	switch c.LLM.Provider {
	case "", "none", "openai", "ollama":
	default:
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q (expected openai, ollama, or none)", c.LLM.Provider),
		})
	}

	// Validate monitor configuration
	if c.Monitor.TickSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.tick_seconds",
			Message: fmt.Sprintf("tick_seconds must be positive, got %d", c.Monitor.TickSeconds),
		})
	}
	if c.Monitor.LookbackPoints < 3 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.lookback_points",
			Message: fmt.Sprintf("lookback_points must be at least 3, got %d", c.Monitor.LookbackPoints),
		})
	}
	if c.Monitor.ZScoreThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.z_score_threshold",
			Message: "z_score_threshold must be positive",
		})
	}
	if c.Monitor.HighDeviationPct <= c.Monitor.MediumDeviationPct {
		errs = append(errs, &ValidationError{
			Field:   "monitor.high_deviation_pct",
			Message: fmt.Sprintf("high tier (%.2f) must exceed medium tier (%.2f)",
				c.Monitor.HighDeviationPct, c.Monitor.MediumDeviationPct),
		})
	}

	// Validate metric policies
	var weightSum float64
	seen := map[string]bool{}
	for i, m := range c.Monitor.Metrics {
		if m.Name == "" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("monitor.metrics[%d].name", i),
				Message: "name is required",
			})
			continue
		}
		if seen[m.Name] {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("monitor.metrics[%d].name", i),
				Message: fmt.Sprintf("duplicate metric %q", m.Name),
			})
		}
		seen[m.Name] = true
		if m.Weight < 0 {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("monitor.metrics[%d].weight", i),
				Message: "weight must not be negative",
			})
		}
		if m.Direction != "higher_better" && m.Direction != "lower_better" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("monitor.metrics[%d].direction", i),
				Message: fmt.Sprintf("direction must be higher_better or lower_better, got %q", m.Direction),
			})
		}
		weightSum += m.Weight
	}
	if len(c.Monitor.Metrics) > 0 && math.Abs(weightSum-1.0) > 0.01 {
		errs = append(errs, &ValidationError{
			Field:   "monitor.metrics",
			Message: fmt.Sprintf("metric weights must sum to 1.0, got %.3f", weightSum),
		})
	}

	// Validate classifier configuration
	if c.Classifier.KeywordThreshold < 0 || c.Classifier.KeywordThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "classifier.keyword_threshold",
			Message: "keyword_threshold must be within [0, 1]",
		})
	}
	if c.Classifier.FuzzyThreshold < 0 || c.Classifier.FuzzyThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "classifier.fuzzy_threshold",
			Message: "fuzzy_threshold must be within [0, 1]",
		})
	}

	// Validate logging configuration
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("level must be debug, info, warn, or error, got %q", c.Logging.Level),
		})
	}

	return errs
}
