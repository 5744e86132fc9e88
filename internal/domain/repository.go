package domain

import (
	"context"
	"time"
)

// Repository defines the interface for durable state: alert
// resolutions, operator-defined screening rules, and trained
// classifier artifacts. The scored batch itself is not persisted; it
// is reloaded and rescored at startup.
type Repository interface {
	// Resolution operations
	SaveResolution(ctx context.Context, transactionID string, res *Resolution) error
	DeleteResolutions(ctx context.Context, transactionIDs []string) error
	ListResolutions(ctx context.Context) (map[string]*Resolution, error)

	// Screening rule operations
	SaveScreeningRule(ctx context.Context, rule *ScreeningRule) error
	ListScreeningRules(ctx context.Context) ([]*ScreeningRule, error)
	DeleteScreeningRule(ctx context.Context, ruleID string) error

	// Classifier artifact operations
	SaveModelArtifact(ctx context.Context, artifact *ModelArtifact) error
	LatestModelArtifact(ctx context.Context) (*ModelArtifact, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ScreeningRule is an operator-defined advisory rule. The expression
// is a CEL program over transaction fields that must evaluate to bool.
type ScreeningRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Expression  string    `json:"expression"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ModelArtifact is one versioned, serialized classifier model:
// scaler, encoders, ensemble, and feature list as a single payload.
type ModelArtifact struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trainedAt"`
	Payload   []byte    `json:"payload"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
