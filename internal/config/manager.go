package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("DEALERLYTICS")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults + env vars are enough to run.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads. Only the monitoring
// policy (thresholds, weights, targets) takes effect without a restart.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.query_rate_per_min", defaults.Server.QueryRatePerMin)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)

	// Monitor defaults
	m.viper.SetDefault("monitor.enable_scheduler", defaults.Monitor.EnableScheduler)
	m.viper.SetDefault("monitor.tick_seconds", defaults.Monitor.TickSeconds)
	m.viper.SetDefault("monitor.lookback_points", defaults.Monitor.LookbackPoints)
	m.viper.SetDefault("monitor.min_forecast_points", defaults.Monitor.MinForecastPoints)
	m.viper.SetDefault("monitor.z_score_threshold", defaults.Monitor.ZScoreThreshold)
	m.viper.SetDefault("monitor.high_deviation_pct", defaults.Monitor.HighDeviationPct)
	m.viper.SetDefault("monitor.medium_deviation_pct", defaults.Monitor.MediumDeviationPct)
	m.viper.SetDefault("monitor.material_change_pct", defaults.Monitor.MaterialChangePct)

	// Classifier defaults
	m.viper.SetDefault("classifier.keyword_threshold", defaults.Classifier.KeywordThreshold)
	m.viper.SetDefault("classifier.fuzzy_threshold", defaults.Classifier.FuzzyThreshold)

	// Catalog defaults
	m.viper.SetDefault("catalog.refresh_seconds", defaults.Catalog.RefreshSeconds)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.QueryRatePerMin = m.viper.GetInt("server.query_rate_per_min")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// LLM
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.Model = m.viper.GetString("llm.model")

	// Monitor
	cfg.Monitor.EnableScheduler = m.viper.GetBool("monitor.enable_scheduler")
	cfg.Monitor.TickSeconds = m.viper.GetInt("monitor.tick_seconds")
	cfg.Monitor.LookbackPoints = m.viper.GetInt("monitor.lookback_points")
	cfg.Monitor.MinForecastPoints = m.viper.GetInt("monitor.min_forecast_points")
	cfg.Monitor.ZScoreThreshold = m.viper.GetFloat64("monitor.z_score_threshold")
	cfg.Monitor.HighDeviationPct = m.viper.GetFloat64("monitor.high_deviation_pct")
	cfg.Monitor.MediumDeviationPct = m.viper.GetFloat64("monitor.medium_deviation_pct")
	cfg.Monitor.MaterialChangePct = m.viper.GetFloat64("monitor.material_change_pct")

	// Metric policies: file overrides replace the defaults wholesale.
	if m.viper.IsSet("monitor.metrics") {
		if err := m.viper.UnmarshalKey("monitor.metrics", &cfg.Monitor.Metrics); err != nil {
			return fmt.Errorf("unmarshal monitor.metrics: %w", err)
		}
	} else {
		cfg.Monitor.Metrics = DefaultMetricPolicies()
	}

	// Classifier
	cfg.Classifier.KeywordThreshold = m.viper.GetFloat64("classifier.keyword_threshold")
	cfg.Classifier.FuzzyThreshold = m.viper.GetFloat64("classifier.fuzzy_threshold")

	// Catalog
	cfg.Catalog.RefreshSeconds = m.viper.GetInt("catalog.refresh_seconds")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperConfigManager) applyEnvOverrides() {
	if v := os.Getenv("DEALERLYTICS_LLM_PROVIDER"); v != "" {
		m.config.LLM.Provider = v
	}
	if v := os.Getenv("DEALERLYTICS_LLM_API_KEY"); v != "" {
		m.config.LLM.APIKey = v
	}
	if v := os.Getenv("DEALERLYTICS_LLM_BASE_URL"); v != "" {
		m.config.LLM.BaseURL = v
	}
	if v := os.Getenv("DEALERLYTICS_LLM_MODEL"); v != "" {
		m.config.LLM.Model = v
	}
	if v := os.Getenv("DEALERLYTICS_DATABASE_SQLITE_PATH"); v != "" {
		m.config.Database.SQLitePath = v
	}
}
