package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

// ResultStore implements analysis.ResultStore over Postgres.
type ResultStore struct {
	pool Pool
}

// NewResultStore constructs a ResultStore from an existing pool.
func NewResultStore(pool Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

const saveResultSQL = `
INSERT INTO engine_analysis_results (
	game_id, engine_name, analysis_depth, engine_version, user_color,
	accuracy, blunders, opening_name, evaluations, artifact_uri
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (game_id, engine_name, analysis_depth) DO UPDATE SET
	engine_version = EXCLUDED.engine_version,
	user_color = EXCLUDED.user_color,
	accuracy = EXCLUDED.accuracy,
	blunders = EXCLUDED.blunders,
	opening_name = EXCLUDED.opening_name,
	evaluations = EXCLUDED.evaluations,
	artifact_uri = EXCLUDED.artifact_uri,
	created_at = now()`

// SaveResult writes the per-game output, superseding any prior attempt
// for the same (game, engine, depth) key. The games foreign key keeps a
// result row from ever landing against a vanished game.
func (s *ResultStore) SaveResult(ctx context.Context, result analysis.Result) error {
	evaluations, err := json.Marshal(result.Evaluations)
	if err != nil {
		return fmt.Errorf("marshal evaluations: %w", err)
	}
	_, err = s.pool.Exec(ctx, saveResultSQL,
		result.GameID,
		result.EngineName,
		result.Depth,
		result.EngineVersion,
		nullable(result.UserColor),
		result.Accuracy,
		result.Blunders,
		nullable(result.OpeningName),
		evaluations,
		nullable(result.ArtifactURI),
	)
	if err != nil {
		return fmt.Errorf("save result for game %d: %w", result.GameID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
