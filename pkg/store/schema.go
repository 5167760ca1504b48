// Package store persists interactions and group assignments in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    day INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    ad_id TEXT NOT NULL,
    social_group TEXT,

    -- Reaction
    ignored INTEGER NOT NULL DEFAULT 0,
    clicked INTEGER NOT NULL DEFAULT 0,
    liked INTEGER NOT NULL DEFAULT 0,
    disliked INTEGER NOT NULL DEFAULT 0,
    shared INTEGER NOT NULL DEFAULT 0,
    reaction_description TEXT,
    deltas TEXT,  -- JSON

    -- Emotional state after the update
    acute_irritation REAL NOT NULL DEFAULT 0,
    acute_interest REAL NOT NULL DEFAULT 0,
    acute_arousal REAL NOT NULL DEFAULT 0,
    bias_irritation REAL NOT NULL DEFAULT 0,
    bias_trust REAL NOT NULL DEFAULT 0,
    bias_fatigue REAL NOT NULL DEFAULT 0,

    interaction_rate REAL NOT NULL DEFAULT 0,
    prompt TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_day ON interactions(day);
CREATE INDEX IF NOT EXISTS idx_interactions_ad ON interactions(ad_id);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);

-- Group assignments; the latest day not after the requested one wins
CREATE TABLE IF NOT EXISTS users_grouping (
    user_id TEXT NOT NULL,
    social_group TEXT NOT NULL,
    day INTEGER NOT NULL,
    PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates the schema on a fresh database and checks the version
// of an existing one.
func InitSchema(ctx context.Context, db *sql.DB) error {
	current, err := getSchemaVersion(ctx, db)
	if err != nil {
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns 0 and an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, fmt.Errorf("schema_version is empty")
	}
	return int(version.Int64), nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		SchemaVersion, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}
