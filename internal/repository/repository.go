// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveResolution stores or overwrites the resolution for a
// transaction.
func (r *SQLRepository) SaveResolution(ctx context.Context, transactionID string, res *domain.Resolution) error {
	if transactionID == "" {
		return fmt.Errorf("%w: transactionID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO resolutions (transaction_id, note, resolved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			note = excluded.note,
			resolved_at = excluded.resolved_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), transactionID, res.Note, res.ResolvedAt)
	return err
}

// DeleteResolutions removes the resolutions for the given
// transactions. Unknown ids are ignored.
func (r *SQLRepository) DeleteResolutions(ctx context.Context, transactionIDs []string) error {
	if len(transactionIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(transactionIDs)), ", ")
	query := "DELETE FROM resolutions WHERE transaction_id IN (" + placeholders + ")"

	args := make([]any, len(transactionIDs))
	for i, id := range transactionIDs {
		args[i] = id
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	return err
}

// ListResolutions returns every persisted resolution keyed by
// transaction id.
func (r *SQLRepository) ListResolutions(ctx context.Context) (map[string]*domain.Resolution, error) {
	query := `SELECT transaction_id, note, resolved_at FROM resolutions`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resolutions := make(map[string]*domain.Resolution)
	for rows.Next() {
		var txID string
		var res domain.Resolution
		if err := rows.Scan(&txID, &res.Note, &res.ResolvedAt); err != nil {
			return nil, err
		}
		resolutions[txID] = &res
	}

	return resolutions, rows.Err()
}

// SaveScreeningRule stores or updates a screening rule.
func (r *SQLRepository) SaveScreeningRule(ctx context.Context, rule *domain.ScreeningRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO screening_rules (id, name, description, expression, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, enabled,
		createdAt, now,
	)
	return err
}

// ListScreeningRules returns every screening rule, enabled or not,
// ordered by name.
func (r *SQLRepository) ListScreeningRules(ctx context.Context) ([]*domain.ScreeningRule, error) {
	query := `
		SELECT id, name, description, expression, enabled, created_at, updated_at
		FROM screening_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ScreeningRule
	for rows.Next() {
		var rule domain.ScreeningRule
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Expression,
			&enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteScreeningRule removes a screening rule.
func (r *SQLRepository) DeleteScreeningRule(ctx context.Context, ruleID string) error {
	query := `DELETE FROM screening_rules WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveModelArtifact stores a trained classifier artifact.
func (r *SQLRepository) SaveModelArtifact(ctx context.Context, artifact *domain.ModelArtifact) error {
	if artifact.Version == "" {
		return fmt.Errorf("%w: artifact version is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO model_artifacts (version, trained_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			trained_at = excluded.trained_at,
			payload = excluded.payload
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), artifact.Version, artifact.TrainedAt, artifact.Payload)
	return err
}

// LatestModelArtifact returns the most recently trained artifact, or
// nil when none has been persisted yet.
func (r *SQLRepository) LatestModelArtifact(ctx context.Context) (*domain.ModelArtifact, error) {
	query := `
		SELECT version, trained_at, payload
		FROM model_artifacts
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var artifact domain.ModelArtifact
	err := r.db.QueryRowContext(ctx, query).Scan(&artifact.Version, &artifact.TrainedAt, &artifact.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &artifact, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
