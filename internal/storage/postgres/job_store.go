package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

// Pool is the slice of pgxpool.Pool the stores use; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PoolConfig controls the shared pgx connection pool.
type PoolConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// NewPool builds and pings a pgx connection pool.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// JobStore implements analysis.JobStore over Postgres. Every mutation is
// one atomic statement; concurrent claimers are isolated by
// FOR UPDATE SKIP LOCKED row leases rather than any in-process lock.
type JobStore struct {
	pool   Pool
	logger *zap.Logger
}

// NewJobStore constructs a JobStore from an existing pool.
func NewJobStore(pool Pool, logger *zap.Logger) *JobStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{pool: pool, logger: logger}
}

const enqueueMissingSQL = `
WITH candidates AS (
	SELECT g.id
	FROM games g
	WHERE NOT EXISTS (
		SELECT 1 FROM analysis_jobs j
		WHERE j.game_id = g.id
		  AND j.engine_name = $1
		  AND j.analysis_depth >= $2
		  AND j.status = 'done'
	)
	ORDER BY g.id
	LIMIT $3
), inserted AS (
	INSERT INTO analysis_jobs (game_id, engine_name, analysis_depth, status)
	SELECT id, $1, $2, 'pending' FROM candidates
	ON CONFLICT (game_id, engine_name, analysis_depth) DO NOTHING
	RETURNING id
)
SELECT
	(SELECT count(*) FROM candidates) AS candidates,
	(SELECT count(*) FROM inserted) AS enqueued`

// EnqueueMissing inserts pending jobs for up to limit games lacking done
// analysis at >= depth. Games already holding a row at the exact key
// (including rows raced in by a concurrent enqueuer) are counted in
// Skipped, never duplicated.
func (s *JobStore) EnqueueMissing(ctx context.Context, limit int, engineName string, depth int) (analysis.EnqueueStats, error) {
	if limit < 1 {
		limit = 1
	}
	var candidates, enqueued int
	err := s.pool.QueryRow(ctx, enqueueMissingSQL, engineName, depth, limit).Scan(&candidates, &enqueued)
	if err != nil {
		return analysis.EnqueueStats{}, fmt.Errorf("enqueue missing: %w", err)
	}
	return analysis.EnqueueStats{Enqueued: enqueued, Skipped: candidates - enqueued}, nil
}

const claimSQL = `
WITH picked AS (
	SELECT id
	FROM analysis_jobs
	WHERE status = 'pending' AND engine_name = $1 AND analysis_depth = $2
	ORDER BY created_at, id
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
UPDATE analysis_jobs j
SET status = 'processing', attempts = j.attempts + 1, updated_at = now()
FROM picked
WHERE j.id = picked.id
RETURNING j.id, j.game_id, j.engine_name, j.analysis_depth, j.status,
	j.attempts, COALESCE(j.last_error, ''), j.created_at, j.updated_at`

// Claim leases up to limit pending jobs, oldest first. Rows locked by a
// concurrent claimer are skipped, so overlapping invocations never
// receive the same job.
func (s *JobStore) Claim(ctx context.Context, limit int, engineName string, depth int) ([]analysis.Job, error) {
	rows, err := s.pool.Query(ctx, claimSQL, engineName, depth, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []analysis.Job
	for rows.Next() {
		var job analysis.Job
		if err := rows.Scan(
			&job.ID,
			&job.GameID,
			&job.EngineName,
			&job.Depth,
			&job.Status,
			&job.Attempts,
			&job.LastError,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	// UPDATE ... RETURNING does not guarantee row order.
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

const requeueStaleSQL = `
UPDATE analysis_jobs
SET status = 'pending',
	updated_at = now(),
	last_error = left(concat_ws(' | ', nullif(last_error, ''), 'requeued after stale lease'), 1000)
WHERE status = 'processing'
  AND engine_name = $1
  AND analysis_depth = $2
  AND updated_at < now() - $3::interval`

// RequeueStale returns abandoned processing jobs to pending, preserving
// attempts and appending an audit note to last_error.
func (s *JobStore) RequeueStale(ctx context.Context, engineName string, depth int, staleAfter time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, requeueStaleSQL, engineName, depth, staleAfter)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const markDoneSQL = `
UPDATE analysis_jobs
SET status = 'done', last_error = NULL, updated_at = now()
WHERE id = $1 AND status = 'processing'`

// MarkDone finalizes a successfully processed job. The status guard
// keeps a reaper-raced row from being resurrected.
func (s *JobStore) MarkDone(ctx context.Context, jobID int64) error {
	tag, err := s.pool.Exec(ctx, markDoneSQL, jobID)
	if err != nil {
		return fmt.Errorf("mark job %d done: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job %d done: %w", jobID, analysis.ErrNotFound)
	}
	return nil
}

const markFailedSQL = `
UPDATE analysis_jobs
SET status = 'failed', last_error = left($2, 1000), updated_at = now()
WHERE id = $1 AND status = 'processing'`

// MarkFailed finalizes a job with the captured failure reason.
func (s *JobStore) MarkFailed(ctx context.Context, jobID int64, reason string) error {
	tag, err := s.pool.Exec(ctx, markFailedSQL, jobID, reason)
	if err != nil {
		return fmt.Errorf("mark job %d failed: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark job %d failed: %w", jobID, analysis.ErrNotFound)
	}
	return nil
}

const coverageSQL = `
WITH analyzed AS (
	SELECT DISTINCT game_id
	FROM analysis_jobs
	WHERE engine_name = $1 AND analysis_depth >= $2 AND status = 'done'
)
SELECT
	(SELECT count(*) FROM games) AS total_games,
	(SELECT count(*) FROM analyzed) AS analyzed,
	count(*) FILTER (WHERE status = 'failed'
		AND game_id NOT IN (SELECT game_id FROM analyzed)) AS failed,
	count(*) FILTER (WHERE status IN ('pending', 'processing')
		AND game_id NOT IN (SELECT game_id FROM analyzed)) AS pending
FROM analysis_jobs
WHERE engine_name = $1 AND analysis_depth = $2`

// Coverage derives the aggregate from committed state on every call;
// nothing is cached. Deeper done jobs count as analyzed for shallower
// asks. Failed/pending are exact-key but exclude analyzed games, so the
// buckets stay disjoint and their sum never exceeds the game count.
func (s *JobStore) Coverage(ctx context.Context, engineName string, depth int) (analysis.Coverage, error) {
	var cov analysis.Coverage
	err := s.pool.QueryRow(ctx, coverageSQL, engineName, depth).Scan(
		&cov.TotalGames,
		&cov.AnalyzedGames,
		&cov.FailedGames,
		&cov.PendingGames,
	)
	if err != nil {
		return analysis.Coverage{}, fmt.Errorf("coverage: %w", err)
	}
	return cov, nil
}

const statsSQL = `
SELECT
	count(*) AS total,
	count(*) FILTER (WHERE status = 'pending') AS pending,
	count(*) FILTER (WHERE status = 'processing') AS processing,
	count(*) FILTER (WHERE status = 'done') AS done,
	count(*) FILTER (WHERE status = 'failed') AS failed,
	count(*) FILTER (WHERE status = 'processing' AND updated_at < now() - $3::interval) AS stale
FROM analysis_jobs
WHERE engine_name = $1 AND analysis_depth = $2`

// Stats breaks the queue down by status for diagnostics.
func (s *JobStore) Stats(ctx context.Context, engineName string, depth int, staleAfter time.Duration) (analysis.QueueStats, error) {
	var stats analysis.QueueStats
	err := s.pool.QueryRow(ctx, statsSQL, engineName, depth, staleAfter).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Processing,
		&stats.Done,
		&stats.Failed,
		&stats.StaleProcessing,
	)
	if err != nil {
		return analysis.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}
