package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8091
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.QueryRatePerMin = 120

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/dealerlytics/dealerlytics-ai.db"

	// LLM defaults: no provider bundled, narration degrades to templates.
	cfg.LLM.Provider = "none"
	cfg.LLM.APIKey = ""
	cfg.LLM.BaseURL = ""
	cfg.LLM.Model = ""

	// Monitor defaults
	cfg.Monitor.EnableScheduler = true
	cfg.Monitor.TickSeconds = 300
	cfg.Monitor.LookbackPoints = 30
	cfg.Monitor.MinForecastPoints = 5
	cfg.Monitor.ZScoreThreshold = 3.0
	cfg.Monitor.HighDeviationPct = 0.40
	cfg.Monitor.MediumDeviationPct = 0.20
	cfg.Monitor.MaterialChangePct = 0.10
	cfg.Monitor.Metrics = DefaultMetricPolicies()

	// Classifier defaults
	cfg.Classifier.KeywordThreshold = 0.50
	cfg.Classifier.FuzzyThreshold = 0.72

	// Catalog defaults
	cfg.Catalog.RefreshSeconds = 300

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}

// DefaultMetricPolicies returns the default tracked-KPI policy set for a
// dealer group. Weights sum to 1.0; operators override per deployment.
func DefaultMetricPolicies() []MetricPolicy {
	return []MetricPolicy{
		{
			Name:        "revenue",
			DisplayName: "Total Revenue",
			Aliases:     []string{"sales", "turnover", "gross sales"},
			Unit:        "usd",
			Target:      1_000_000,
			Weight:      0.25,
			Direction:   "higher_better",
		},
		{
			Name:        "units_sold",
			DisplayName: "Units Sold",
			Aliases:     []string{"vehicles sold", "cars sold", "unit sales", "volume"},
			Unit:        "vehicles",
			Target:      250,
			Weight:      0.20,
			Direction:   "higher_better",
		},
		{
			Name:        "gross_margin_pct",
			DisplayName: "Gross Margin",
			Aliases:     []string{"margin", "gross profit", "profitability"},
			Unit:        "percent",
			Target:      12.0,
			Weight:      0.15,
			Direction:   "higher_better",
		},
		{
			Name:        "service_orders",
			DisplayName: "Service Orders",
			Aliases:     []string{"repair orders", "ro count", "workshop orders"},
			Unit:        "orders",
			Target:      900,
			Weight:      0.10,
			Direction:   "higher_better",
		},
		{
			Name:        "inventory_days",
			DisplayName: "Days of Inventory",
			Aliases:     []string{"days supply", "stock days", "inventory age"},
			Unit:        "days",
			Target:      60,
			Weight:      0.10,
			Direction:   "lower_better",
		},
		{
			Name:        "lead_conversion_pct",
			DisplayName: "Lead Conversion",
			Aliases:     []string{"close rate", "conversion rate", "lead close"},
			Unit:        "percent",
			Target:      10.0,
			Weight:      0.10,
			Direction:   "higher_better",
		},
		{
			Name:        "csat_score",
			DisplayName: "Customer Satisfaction",
			Aliases:     []string{"csi", "satisfaction", "customer score"},
			Unit:        "score",
			Target:      90.0,
			Weight:      0.05,
			Direction:   "higher_better",
		},
		{
			Name:        "warranty_claims",
			DisplayName: "Warranty Claims",
			Aliases:     []string{"claims", "warranty work"},
			Unit:        "claims",
			Target:      40,
			Weight:      0.05,
			Direction:   "lower_better",
		},
	}
}
