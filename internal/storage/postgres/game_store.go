package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

// GameStore implements analysis.GameStore over Postgres.
type GameStore struct {
	pool Pool
}

// NewGameStore constructs a GameStore from an existing pool.
func NewGameStore(pool Pool) *GameStore {
	return &GameStore{pool: pool}
}

const getGameSQL = `
SELECT id, white, black, result, game_date, move_text, ply_count, COALESCE(headers, '{}'::jsonb)
FROM games
WHERE id = $1`

// GetGame returns analysis.ErrNotFound when the game no longer exists.
func (s *GameStore) GetGame(ctx context.Context, gameID int64) (analysis.Game, error) {
	var game analysis.Game
	err := s.pool.QueryRow(ctx, getGameSQL, gameID).Scan(
		&game.ID,
		&game.White,
		&game.Black,
		&game.Result,
		&game.Date,
		&game.MoveText,
		&game.PlyCount,
		&game.Headers,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analysis.Game{}, analysis.ErrNotFound
		}
		return analysis.Game{}, fmt.Errorf("get game %d: %w", gameID, err)
	}
	return game, nil
}

const markGameFailedSQL = `
UPDATE games
SET analysis_failed = TRUE, analysis_error = left($2, 1000)
WHERE id = $1`

// MarkAnalysisFailed flags the game's own analysis record; the flag
// mirrors the failed queue entry for readers of the games table.
func (s *GameStore) MarkAnalysisFailed(ctx context.Context, gameID int64, reason string) error {
	tag, err := s.pool.Exec(ctx, markGameFailedSQL, gameID, reason)
	if err != nil {
		return fmt.Errorf("mark game %d analysis failed: %w", gameID, err)
	}
	if tag.RowsAffected() == 0 {
		return analysis.ErrNotFound
	}
	return nil
}
