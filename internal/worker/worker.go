// Package worker drains the analysis job queue: it claims leased jobs,
// runs each game through the evaluator, persists results, and finalizes
// the jobs. The drainer holds no state between invocations; all
// coordination happens through the job store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blunderlab/blunderlab/internal/analysis"
	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/evaluator"
	"github.com/blunderlab/blunderlab/internal/metrics"
)

// EngineFactory starts a fresh engine supervisor. The drainer calls it
// lazily, at most once per drain unless the engine crashes mid-batch.
type EngineFactory func(ctx context.Context) (analysis.Engine, error)

// Config tunes one drainer.
type Config struct {
	EngineName string
	Depth      int
	// StaleAfter is the lease lifetime used for the pre-claim reaper pass.
	StaleAfter time.Duration
	// AutoEnqueueLimit bounds the opportunistic enqueue performed when a
	// drain finds the queue empty. <= 0 disables auto-enqueue.
	AutoEnqueueLimit int
	// ArtifactPrefix is the path prefix for evaluation payloads.
	ArtifactPrefix string
	// Topic receives completion events; empty disables publishing.
	Topic string
	// Evaluator carries blunder threshold, sampling and username.
	Evaluator evaluator.Config
}

// Drainer processes claimed jobs until the batch is exhausted or the
// context is cancelled.
type Drainer struct {
	jobs      analysis.JobStore
	games     analysis.GameStore
	results   analysis.ResultStore
	artifacts analysis.ArtifactStore
	publisher analysis.Publisher
	newEngine EngineFactory
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Drainer. artifacts and publisher may be nil; the
// corresponding steps are skipped.
func New(
	jobs analysis.JobStore,
	games analysis.GameStore,
	results analysis.ResultStore,
	artifacts analysis.ArtifactStore,
	publisher analysis.Publisher,
	newEngine EngineFactory,
	cfg Config,
	logger *zap.Logger,
) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Drainer{
		jobs:      jobs,
		games:     games,
		results:   results,
		artifacts: artifacts,
		publisher: publisher,
		newEngine: newEngine,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// completionEvent is the payload published after a job finishes.
type completionEvent struct {
	GameID      int64  `json:"game_id"`
	EngineName  string `json:"engine_name"`
	Depth       int    `json:"analysis_depth"`
	Blunders    int    `json:"blunders"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
}

// Drain runs one drain pass: a best-effort reaper sweep, a claim of up
// to limit jobs at the given depth (auto-enqueueing once if the queue is
// empty), then sequential processing. depth < 1 falls back to the
// configured default. Every claimed job is finalized before Drain
// returns, except when the engine cannot start at all or the context is
// cancelled; those leases fall back to the reaper.
func (d *Drainer) Drain(ctx context.Context, limit, depth int) (analysis.DrainStats, error) {
	var stats analysis.DrainStats
	if depth < 1 {
		depth = d.cfg.Depth
	}

	if requeued, err := d.jobs.RequeueStale(ctx, d.cfg.EngineName, depth, d.cfg.StaleAfter); err != nil {
		d.logger.Warn("stale requeue failed", zap.Error(err))
	} else if requeued > 0 {
		d.logger.Info("requeued stale jobs", zap.Int("count", requeued))
	}

	claimed, err := d.jobs.Claim(ctx, limit, d.cfg.EngineName, depth)
	if err != nil {
		return stats, fmt.Errorf("claim jobs: %w", err)
	}
	if len(claimed) == 0 && d.cfg.AutoEnqueueLimit > 0 {
		enq, err := d.jobs.EnqueueMissing(ctx, d.cfg.AutoEnqueueLimit, d.cfg.EngineName, depth)
		if err != nil {
			return stats, fmt.Errorf("auto enqueue: %w", err)
		}
		stats.AutoEnqueued = enq.Enqueued
		if enq.Enqueued > 0 {
			claimed, err = d.jobs.Claim(ctx, limit, d.cfg.EngineName, depth)
			if err != nil {
				return stats, fmt.Errorf("claim jobs: %w", err)
			}
		}
	}
	if len(claimed) == 0 {
		return stats, nil
	}

	var eng analysis.Engine
	defer func() {
		if eng != nil {
			eng.Stop()
		}
	}()

	for _, job := range claimed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if eng == nil {
			eng, err = d.newEngine(ctx)
			if err != nil {
				// Every remaining lease expires via the reaper.
				return stats, fmt.Errorf("start engine: %w", err)
			}
		}

		crashed, err := d.process(ctx, eng, job)
		stats.Processed++
		if err != nil {
			stats.Failed++
			metrics.ObserveJob("failed")
			d.logger.Warn("job failed",
				zap.Int64("job_id", job.ID),
				zap.Int64("game_id", job.GameID),
				zap.Error(err))
		} else {
			stats.Succeeded++
			metrics.ObserveJob("done")
		}
		if crashed {
			// Next job gets a fresh process.
			eng.Stop()
			eng = nil
			metrics.ObserveEngineRestart()
		}
	}

	d.updateQueueGauges(ctx, depth)
	return stats, nil
}

// process runs one job to a terminal status. The returned error is the
// job's failure reason (already recorded); crashed reports whether the
// engine died and must be replaced.
func (d *Drainer) process(ctx context.Context, eng analysis.Engine, job analysis.Job) (crashed bool, err error) {
	game, err := d.games.GetGame(ctx, job.GameID)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			d.failJob(ctx, job, analysis.ErrMissingGame.Error())
			return false, fmt.Errorf("game %d: %w", job.GameID, analysis.ErrMissingGame)
		}
		d.failJob(ctx, job, "game lookup failed: "+err.Error())
		return false, fmt.Errorf("load game %d: %w", job.GameID, err)
	}

	start := time.Now()
	report, err := evaluator.New(eng, d.cfg.Evaluator, d.logger).Analyze(ctx, game, job.Depth)
	if err != nil {
		crashed = errors.Is(err, engine.ErrEngineCrash) || errors.Is(err, engine.ErrEngineStopped)
		d.failJob(ctx, job, err.Error())
		if mkErr := d.games.MarkAnalysisFailed(ctx, job.GameID, err.Error()); mkErr != nil {
			d.logger.Warn("mark game failed", zap.Int64("game_id", job.GameID), zap.Error(mkErr))
		}
		return crashed, err
	}
	if searched := len(report.Evaluations); searched > 0 {
		// +1 for the baseline evaluation of the starting position.
		metrics.ObserveAnalysis(eng.Name(), searched+1, time.Since(start))
	}

	result := analysis.Result{
		GameID:        job.GameID,
		EngineName:    job.EngineName,
		Depth:         job.Depth,
		EngineVersion: eng.Version(),
		UserColor:     report.UserColor,
		Accuracy:      report.Accuracy,
		Blunders:      report.Blunders,
		OpeningName:   report.OpeningName,
		Evaluations:   report.Evaluations,
	}
	result.ArtifactURI = d.putArtifact(ctx, result)

	if err := d.results.SaveResult(ctx, result); err != nil {
		d.failJob(ctx, job, "save result: "+err.Error())
		return false, fmt.Errorf("save result: %w", err)
	}
	if err := d.jobs.MarkDone(ctx, job.ID); err != nil {
		return false, fmt.Errorf("mark done: %w", err)
	}

	d.publish(ctx, result)
	d.logger.Info("job done",
		zap.Int64("job_id", job.ID),
		zap.Int64("game_id", job.GameID),
		zap.Int("blunders", report.Blunders),
		zap.Int("evaluated_plies", len(report.Evaluations)))
	return false, nil
}

// failJob finalizes the job as failed; a stale lease losing the race is
// expected and only logged.
func (d *Drainer) failJob(ctx context.Context, job analysis.Job, reason string) {
	if err := d.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		d.logger.Warn("mark failed lost race",
			zap.Int64("job_id", job.ID),
			zap.Error(err))
	}
}

// putArtifact uploads the full evaluation payload. Failures are logged
// and tolerated; the result row still carries the evaluations.
func (d *Drainer) putArtifact(ctx context.Context, result analysis.Result) string {
	if d.artifacts == nil {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		d.logger.Warn("marshal artifact", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%d/%s-%d.json",
		d.cfg.ArtifactPrefix, result.GameID, result.EngineName, result.Depth)
	uri, err := d.artifacts.Put(ctx, path, data)
	if err != nil {
		d.logger.Warn("store artifact", zap.Int64("game_id", result.GameID), zap.Error(err))
		return ""
	}
	return uri
}

// publish emits a best-effort completion event.
func (d *Drainer) publish(ctx context.Context, result analysis.Result) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	event := completionEvent{
		GameID:      result.GameID,
		EngineName:  result.EngineName,
		Depth:       result.Depth,
		Blunders:    result.Blunders,
		ArtifactURI: result.ArtifactURI,
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, event); err != nil {
		d.logger.Warn("publish completion event", zap.Int64("game_id", result.GameID), zap.Error(err))
	}
}

func (d *Drainer) updateQueueGauges(ctx context.Context, depth int) {
	stats, err := d.jobs.Stats(ctx, d.cfg.EngineName, depth, d.cfg.StaleAfter)
	if err != nil {
		d.logger.Warn("queue stats", zap.Error(err))
		return
	}
	metrics.SetQueueDepth("pending", stats.Pending)
	metrics.SetQueueDepth("processing", stats.Processing)
	metrics.SetQueueDepth("done", stats.Done)
	metrics.SetQueueDepth("failed", stats.Failed)
}
