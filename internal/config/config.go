package config

import "context"

// Package config provides configuration management for dealerlytics-ai.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support hot reload of monitoring policy (thresholds, weights, targets)
//   - Manage sensitive data (LLM API keys)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (DEALERLYTICS_* prefix)
//   2. YAML config file (default: /etc/dealerlytics/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// The anomaly thresholds, severity tiers, and health-score weights are
// deliberately configuration rather than constants: the default policy is a
// reasonable starting point, not a contract, and operators tune it per rooftop.

// MetricPolicy describes one tracked KPI: how it is referenced in questions,
// what its target is, and how it contributes to the composite health score.
type MetricPolicy struct {
	Name        string   `mapstructure:"name"`
	DisplayName string   `mapstructure:"display_name"`
	Aliases     []string `mapstructure:"aliases"`
	Unit        string   `mapstructure:"unit"`
	Target      float64  `mapstructure:"target"`
	Weight      float64  `mapstructure:"weight"`
	// Direction is "higher_better" (revenue, units) or "lower_better"
	// (inventory days, warranty claims).
	Direction string `mapstructure:"direction"`
}

// Config struct contains all configuration fields.
type Config struct {
	// Server configuration
	Server struct {
		Host string
		Port int
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
		// QueryRatePerMin caps query requests per client per minute.
		// Zero disables rate limiting.
		QueryRatePerMin int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// LLM provider configuration (narration capability)
	LLM struct {
		Provider string // "openai" | "ollama" | "none"
		APIKey   string
		BaseURL  string
		Model    string
	}

	// Monitor configuration (scan engine policy)
	Monitor struct {
		EnableScheduler bool
		// TickSeconds is the scheduler wake interval.
		TickSeconds int
		// LookbackPoints is how many recent observations a scan considers.
		LookbackPoints int
		// MinForecastPoints is the minimum history before forecasting.
		MinForecastPoints int
		// ZScoreThreshold flags a point whose deviation exceeds this many
		// spreads of the baseline.
		ZScoreThreshold float64
		// HighDeviationPct / MediumDeviationPct are the severity tiers:
		// above High -> high, High..Medium -> medium, below -> low.
		HighDeviationPct   float64
		MediumDeviationPct float64
		// MaterialChangePct is the period-over-period change above which the
		// daily scan runs root-cause decomposition for a metric.
		MaterialChangePct float64
		// Metrics is the tracked KPI policy set.
		Metrics []MetricPolicy
	}

	// Classifier configuration
	Classifier struct {
		// KeywordThreshold is the minimum keyword-tier score (0..1) for a
		// deterministic fast-path match.
		KeywordThreshold float64
		// FuzzyThreshold is the minimum fuzzy-tier similarity (0..1) before
		// falling through to the general intent.
		FuzzyThreshold float64
	}

	// Catalog configuration (metric catalog cache)
	Catalog struct {
		RefreshSeconds int
	}

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default
// config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/dealerlytics/config.yaml")
}
