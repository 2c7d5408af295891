// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
)

// Schema creates the tables the analysis queue relies on. The unique key
// on (game_id, engine_name, analysis_depth) is what makes enqueue
// idempotent: insertion against an existing key is a no-op.
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	id BIGSERIAL PRIMARY KEY,
	white TEXT NOT NULL DEFAULT '',
	black TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	game_date TEXT NOT NULL DEFAULT '',
	move_text TEXT NOT NULL DEFAULT '',
	ply_count INT NOT NULL DEFAULT 0,
	headers JSONB,
	analysis_failed BOOLEAN NOT NULL DEFAULT FALSE,
	analysis_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id BIGSERIAL PRIMARY KEY,
	game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	engine_name TEXT NOT NULL,
	analysis_depth INT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'processing', 'done', 'failed')),
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (game_id, engine_name, analysis_depth)
);

CREATE INDEX IF NOT EXISTS idx_analysis_jobs_claim
	ON analysis_jobs (engine_name, analysis_depth, status, created_at);

CREATE TABLE IF NOT EXISTS engine_analysis_results (
	game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	engine_name TEXT NOT NULL,
	analysis_depth INT NOT NULL,
	engine_version TEXT NOT NULL DEFAULT '',
	user_color TEXT,
	accuracy DOUBLE PRECISION,
	blunders INT NOT NULL DEFAULT 0,
	opening_name TEXT,
	evaluations JSONB NOT NULL,
	artifact_uri TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (game_id, engine_name, analysis_depth)
);
`

// EnsureSchema applies the schema to the connected database.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
