// Package memory provides in-memory store implementations for
// development and testing. Semantics mirror the Postgres stores,
// including claim exclusivity and the stale-lease reaper.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blunderlab/blunderlab/internal/analysis"
)

type jobKey struct {
	gameID int64
	engine string
	depth  int
}

// Store implements analysis.JobStore, GameStore and ResultStore over
// mutex-guarded maps.
type Store struct {
	mu      sync.Mutex
	clock   analysis.Clock
	nextJob int64
	nextGam int64
	games   map[int64]analysis.Game
	failed  map[int64]string
	jobs    map[int64]analysis.Job
	byKey   map[jobKey]int64
	results map[jobKey]analysis.Result
}

// NewStore constructs a Store ticking on the given clock.
func NewStore(clock analysis.Clock) *Store {
	return &Store{
		clock:   clock,
		games:   make(map[int64]analysis.Game),
		failed:  make(map[int64]string),
		jobs:    make(map[int64]analysis.Job),
		byKey:   make(map[jobKey]int64),
		results: make(map[jobKey]analysis.Result),
	}
}

// AddGame seeds a game and returns its id.
func (s *Store) AddGame(game analysis.Game) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGam++
	game.ID = s.nextGam
	s.games[game.ID] = game
	return game.ID
}

// RemoveGame deletes a game, simulating a vanished foreign key.
func (s *Store) RemoveGame(gameID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, gameID)
}

// GetGame implements analysis.GameStore.
func (s *Store) GetGame(_ context.Context, gameID int64) (analysis.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	game, ok := s.games[gameID]
	if !ok {
		return analysis.Game{}, analysis.ErrNotFound
	}
	return game, nil
}

// MarkAnalysisFailed implements analysis.GameStore.
func (s *Store) MarkAnalysisFailed(_ context.Context, gameID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return analysis.ErrNotFound
	}
	s.failed[gameID] = reason
	return nil
}

// AnalysisFailedReason reports the failure marker set on a game, if any.
func (s *Store) AnalysisFailedReason(gameID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.failed[gameID]
	return reason, ok
}

// EnqueueMissing implements analysis.JobStore.
func (s *Store) EnqueueMissing(_ context.Context, limit int, engineName string, depth int) (analysis.EnqueueStats, error) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.games))
	for id := range s.games {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var stats analysis.EnqueueStats
	for _, gameID := range ids {
		if stats.Enqueued+stats.Skipped >= limit {
			break
		}
		if s.hasDoneAtDepth(gameID, engineName, depth) {
			continue
		}
		key := jobKey{gameID: gameID, engine: engineName, depth: depth}
		if _, exists := s.byKey[key]; exists {
			stats.Skipped++
			continue
		}
		s.nextJob++
		now := s.clock.Now()
		job := analysis.Job{
			ID:         s.nextJob,
			GameID:     gameID,
			EngineName: engineName,
			Depth:      depth,
			Status:     analysis.JobStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.jobs[job.ID] = job
		s.byKey[key] = job.ID
		stats.Enqueued++
	}
	return stats, nil
}

func (s *Store) hasDoneAtDepth(gameID int64, engineName string, depth int) bool {
	for _, job := range s.jobs {
		if job.GameID == gameID && job.EngineName == engineName &&
			job.Depth >= depth && job.Status == analysis.JobStatusDone {
			return true
		}
	}
	return false
}

// Claim implements analysis.JobStore.
func (s *Store) Claim(_ context.Context, limit int, engineName string, depth int) ([]analysis.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]analysis.Job, 0)
	for _, job := range s.jobs {
		if job.Status == analysis.JobStatusPending && job.EngineName == engineName && job.Depth == depth {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	claimed := make([]analysis.Job, 0, len(pending))
	for _, job := range pending {
		job.Status = analysis.JobStatusProcessing
		job.Attempts++
		job.UpdatedAt = s.clock.Now()
		s.jobs[job.ID] = job
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// RequeueStale implements analysis.JobStore.
func (s *Store) RequeueStale(_ context.Context, engineName string, depth int, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-staleAfter)
	requeued := 0
	for id, job := range s.jobs {
		if job.Status != analysis.JobStatusProcessing || job.EngineName != engineName || job.Depth != depth {
			continue
		}
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.Status = analysis.JobStatusPending
		job.UpdatedAt = s.clock.Now()
		job.LastError = appendAudit(job.LastError, "requeued after stale lease")
		s.jobs[id] = job
		requeued++
	}
	return requeued, nil
}

func appendAudit(lastError, note string) string {
	if lastError == "" {
		return note
	}
	return lastError + " | " + note
}

// MarkDone implements analysis.JobStore.
func (s *Store) MarkDone(_ context.Context, jobID int64) error {
	return s.finalize(jobID, analysis.JobStatusDone, "")
}

// MarkFailed implements analysis.JobStore.
func (s *Store) MarkFailed(_ context.Context, jobID int64, reason string) error {
	return s.finalize(jobID, analysis.JobStatusFailed, reason)
}

func (s *Store) finalize(jobID int64, status analysis.JobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != analysis.JobStatusProcessing {
		return analysis.ErrNotFound
	}
	job.Status = status
	job.LastError = reason
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// Coverage implements analysis.JobStore.
func (s *Store) Coverage(_ context.Context, engineName string, depth int) (analysis.Coverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cov := analysis.Coverage{TotalGames: len(s.games)}
	analyzed := make(map[int64]bool)
	for _, job := range s.jobs {
		if job.EngineName == engineName && job.Depth >= depth && job.Status == analysis.JobStatusDone {
			analyzed[job.GameID] = true
		}
	}
	// A game satisfied at this depth or deeper never counts as failed or
	// pending; the buckets stay disjoint.
	for _, job := range s.jobs {
		if job.EngineName != engineName || job.Depth != depth || analyzed[job.GameID] {
			continue
		}
		switch job.Status {
		case analysis.JobStatusFailed:
			cov.FailedGames++
		case analysis.JobStatusPending, analysis.JobStatusProcessing:
			cov.PendingGames++
		}
	}
	cov.AnalyzedGames = len(analyzed)
	return cov, nil
}

// Stats implements analysis.JobStore.
func (s *Store) Stats(_ context.Context, engineName string, depth int, staleAfter time.Duration) (analysis.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-staleAfter)
	var stats analysis.QueueStats
	for _, job := range s.jobs {
		if job.EngineName != engineName || job.Depth != depth {
			continue
		}
		stats.Total++
		switch job.Status {
		case analysis.JobStatusPending:
			stats.Pending++
		case analysis.JobStatusProcessing:
			stats.Processing++
			if job.UpdatedAt.Before(cutoff) {
				stats.StaleProcessing++
			}
		case analysis.JobStatusDone:
			stats.Done++
		case analysis.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// SaveResult implements analysis.ResultStore.
func (s *Store) SaveResult(_ context.Context, result analysis.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[result.GameID]; !ok {
		return analysis.ErrNotFound
	}
	key := jobKey{gameID: result.GameID, engine: result.EngineName, depth: result.Depth}
	result.CreatedAt = s.clock.Now()
	s.results[key] = result
	return nil
}

// Result returns the stored result for a key, if any.
func (s *Store) Result(gameID int64, engineName string, depth int) (analysis.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[jobKey{gameID: gameID, engine: engineName, depth: depth}]
	return result, ok
}

// Job returns a job row by id, for assertions.
func (s *Store) Job(jobID int64) (analysis.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return job, ok
}

// Jobs lists all job rows sorted by id, for assertions.
func (s *Store) Jobs() []analysis.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]analysis.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ArtifactStore keeps artifacts in memory and serves mem:// URIs.
type ArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewArtifactStore constructs an ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{objects: make(map[string][]byte)}
}

// Put implements analysis.ArtifactStore.
func (a *ArtifactStore) Put(_ context.Context, path string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[strings.TrimPrefix(path, "/")] = append([]byte(nil), data...)
	return "mem://" + strings.TrimPrefix(path, "/"), nil
}

// Get returns a stored artifact, for assertions.
func (a *ArtifactStore) Get(path string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[strings.TrimPrefix(path, "/")]
	return data, ok
}
