package repository

// Schema definitions for Harrier durable state.
// Compatible with both SQLite and PostgreSQL.

const schemaResolutions = `
CREATE TABLE IF NOT EXISTS resolutions (
    transaction_id TEXT PRIMARY KEY,
    note TEXT NOT NULL,
    resolved_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_resolved_at ON resolutions(resolved_at);
`

const schemaScreeningRules = `
CREATE TABLE IF NOT EXISTS screening_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screening_rules_enabled ON screening_rules(enabled);
`

const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    version TEXT PRIMARY KEY,
    trained_at TIMESTAMP NOT NULL,
    payload BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_artifacts_trained_at ON model_artifacts(trained_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaResolutions,
		schemaScreeningRules,
		schemaModelArtifacts,
	}
}
