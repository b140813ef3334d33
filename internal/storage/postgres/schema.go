package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs DDL statements.
type Execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// SchemaStatements returns the idempotent DDL for the captures and schedules tables.
func SchemaStatements(capturesTable, schedulesTable string) ([]string, error) {
	captures, err := tableName(capturesTable, "captures")
	if err != nil {
		return nil, err
	}
	schedules, err := tableName(schedulesTable, "schedules")
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	capture_id    TEXT NOT NULL,
	created_at    DOUBLE PRECISION NOT NULL,
	url           TEXT NOT NULL,
	sha256        TEXT NOT NULL,
	s3_key        TEXT NOT NULL,
	s3_version_id TEXT NOT NULL DEFAULT '',
	artifact_type TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (capture_id, created_at)
)`, captures),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_user_created_idx ON %[1]s (user_id, created_at DESC)`, captures),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_sha256_idx ON %[1]s (sha256)`, captures),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	schedule_id     TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	artifact_type   TEXT NOT NULL,
	viewport_width  INTEGER NOT NULL,
	viewport_height INTEGER NOT NULL,
	wait_strategy   TEXT NOT NULL,
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	user_id         TEXT NOT NULL,
	created_at      DOUBLE PRECISION NOT NULL,
	updated_at      DOUBLE PRECISION NOT NULL
)`, schedules),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_user_idx ON %[1]s (user_id)`, schedules),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_enabled_idx ON %[1]s (enabled) WHERE enabled`, schedules),
	}, nil
}

// Migrate provisions the tables and indexes.
func Migrate(ctx context.Context, db Execer, capturesTable, schedulesTable string) error {
	stmts, err := SchemaStatements(capturesTable, schedulesTable)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
