package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

func TestEnqueueMissingCountsSkipped(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectQuery("WITH candidates").
		WithArgs("stockfish", 12, 5).
		WillReturnRows(pgxmock.NewRows([]string{"candidates", "enqueued"}).AddRow(3, 3))

	stats, err := store.EnqueueMissing(context.Background(), 5, "stockfish", 12)
	require.NoError(t, err)
	assert.Equal(t, analysis.EnqueueStats{Enqueued: 3, Skipped: 0}, stats)

	// Second pass: same candidates, every insert conflicts.
	mock.ExpectQuery("WITH candidates").
		WithArgs("stockfish", 12, 5).
		WillReturnRows(pgxmock.NewRows([]string{"candidates", "enqueued"}).AddRow(3, 0))

	stats, err = store.EnqueueMissing(context.Background(), 5, "stockfish", 12)
	require.NoError(t, err)
	assert.Equal(t, analysis.EnqueueStats{Enqueued: 0, Skipped: 3}, stats)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReturnsJobsInCreationOrder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	base := time.Unix(1700000000, 0).UTC()
	cols := []string{
		"id", "game_id", "engine_name", "analysis_depth", "status",
		"attempts", "last_error", "created_at", "updated_at",
	}
	// RETURNING rows arrive out of creation order.
	rows := pgxmock.NewRows(cols).
		AddRow(int64(7), int64(103), "stockfish", 12, analysis.JobStatusProcessing, 1, "", base.Add(2*time.Minute), base.Add(time.Hour)).
		AddRow(int64(5), int64(101), "stockfish", 12, analysis.JobStatusProcessing, 1, "", base, base.Add(time.Hour)).
		AddRow(int64(6), int64(102), "stockfish", 12, analysis.JobStatusProcessing, 2, "requeued after stale lease", base.Add(time.Minute), base.Add(time.Hour))

	mock.ExpectQuery("WITH picked").
		WithArgs("stockfish", 12, 10).
		WillReturnRows(rows)

	jobs, err := store.Claim(context.Background(), 10, "stockfish", 12)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []int64{5, 6, 7}, []int64{jobs[0].ID, jobs[1].ID, jobs[2].ID})
	assert.Equal(t, analysis.JobStatusProcessing, jobs[0].Status)
	assert.Equal(t, 2, jobs[1].Attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueStaleReportsCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs("stockfish", 12, 15*time.Minute).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	requeued, err := store.RequeueStale(context.Background(), "stockfish", 12, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDoneGuardsStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkDone(context.Background(), 5))

	// A reaper-raced row is no longer processing; the guard refuses it.
	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = store.MarkDone(context.Background(), 6)
	require.ErrorIs(t, err, analysis.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedRecordsReason(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectExec("UPDATE analysis_jobs").
		WithArgs(int64(9), "invalid game moves: illegal san").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkFailed(context.Background(), 9, "invalid game moves: illegal san"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCoverageAggregates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectQuery("WITH analyzed").
		WithArgs("stockfish", 12).
		WillReturnRows(pgxmock.NewRows([]string{"total_games", "analyzed", "failed", "pending"}).
			AddRow(10, 6, 1, 2))

	cov, err := store.Coverage(context.Background(), "stockfish", 12)
	require.NoError(t, err)
	assert.Equal(t, analysis.Coverage{TotalGames: 10, AnalyzedGames: 6, FailedGames: 1, PendingGames: 2}, cov)
	assert.LessOrEqual(t, cov.AnalyzedGames+cov.FailedGames+cov.PendingGames, cov.TotalGames)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsIncludesStaleProcessing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock, nil)

	mock.ExpectQuery("SELECT").
		WithArgs("stockfish", 12, 15*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"total", "pending", "processing", "done", "failed", "stale"}).
			AddRow(12, 3, 2, 6, 1, 1))

	stats, err := store.Stats(context.Background(), "stockfish", 12, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, analysis.QueueStats{Total: 12, Pending: 3, Processing: 2, Done: 6, Failed: 1, StaleProcessing: 1}, stats)

	require.NoError(t, mock.ExpectationsWereMet())
}
