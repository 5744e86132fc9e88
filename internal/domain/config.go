package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// BatchPath is the transaction batch CSV loaded at startup.
	// A missing or unreadable file is fatal.
	BatchPath string `json:"batchPath"`

	// Component configurations
	Detection  DetectionConfig  `json:"detection"`
	Classifier ClassifierConfig `json:"classifier"`
	Reports    ReportConfig     `json:"reports"`
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// DetectionConfig holds rule-evaluation settings.
type DetectionConfig struct {
	// HighAmountPercentile defines the batch percentile above which an
	// amount counts as "high" for the low-risk-profile rules.
	HighAmountPercentile float64 `json:"highAmountPercentile"`
}

// ClassifierConfig holds training hyperparameters for the advisory
// risk classifier.
type ClassifierConfig struct {
	Estimators   int     `json:"estimators"`
	MaxDepth     int     `json:"maxDepth"`
	LearningRate float64 `json:"learningRate"`
	Subsample    float64 `json:"subsample"`
	Seed         int64   `json:"seed"`
}

// ReportConfig holds report generation and retention settings.
type ReportConfig struct {
	// Dir is where monthly artifact pairs are written.
	Dir string `json:"dir"`

	// AlertRetention is how long a resolved alert is retained before
	// the purge sweep removes it.
	AlertRetention time.Duration `json:"alertRetention"`

	// ReportRetention is how long report artifacts are retained,
	// judged by file modification time.
	ReportRetention time.Duration `json:"reportRetention"`

	// SchedulerInterval is the background sweep cadence.
	SchedulerInterval time.Duration `json:"schedulerInterval"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite repository, in-memory cache, channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8001,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		BatchPath: "./client_data/transactions.csv",
		Detection: DetectionConfig{
			HighAmountPercentile: 95,
		},
		Classifier: ClassifierConfig{
			Estimators:   100,
			MaxDepth:     5,
			LearningRate: 0.1,
			Subsample:    0.8,
			Seed:         42,
		},
		Reports: ReportConfig{
			Dir:               "./reports/monthly",
			AlertRetention:    30 * 24 * time.Hour,
			ReportRetention:   365 * 24 * time.Hour,
			SchedulerInterval: time.Hour,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
	}
}
