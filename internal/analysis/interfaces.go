package analysis

import (
	"context"
	"time"
)

// JobStore is the durable queue of analysis jobs. Every mutation is a
// single atomic statement so concurrent drainers coordinate through the
// store, never through in-process locks.
type JobStore interface {
	// EnqueueMissing inserts up to limit pending jobs for games lacking
	// analysis at >= depth for the engine. Re-enqueueing an existing key
	// is a no-op counted in Skipped.
	EnqueueMissing(ctx context.Context, limit int, engineName string, depth int) (EnqueueStats, error)
	// Claim leases up to limit pending jobs, oldest first, skipping rows
	// already leased by a concurrent claimer. Claimed jobs move to
	// processing with attempts incremented.
	Claim(ctx context.Context, limit int, engineName string, depth int) ([]Job, error)
	// RequeueStale returns processing jobs whose lease expired to pending,
	// preserving attempts. This is the sole crash-recovery mechanism.
	RequeueStale(ctx context.Context, engineName string, depth int, staleAfter time.Duration) (int, error)
	MarkDone(ctx context.Context, jobID int64) error
	MarkFailed(ctx context.Context, jobID int64, reason string) error
	Coverage(ctx context.Context, engineName string, depth int) (Coverage, error)
	Stats(ctx context.Context, engineName string, depth int, staleAfter time.Duration) (QueueStats, error)
}

// GameStore looks up stored games and flags their analysis state.
type GameStore interface {
	// GetGame returns ErrNotFound when the game no longer exists.
	GetGame(ctx context.Context, gameID int64) (Game, error)
	MarkAnalysisFailed(ctx context.Context, gameID int64, reason string) error
}

// ResultStore persists per-game analysis output, superseding prior
// attempts for the same (game, engine, depth) key.
type ResultStore interface {
	SaveResult(ctx context.Context, result Result) error
}

// ArtifactStore writes the full evaluation payload and returns a URI.
type ArtifactStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Engine is the evaluate surface of the engine process supervisor.
type Engine interface {
	Evaluate(ctx context.Context, fen string, depth int) (Evaluation, error)
	Name() string
	Version() string
	Stop()
}

// Evaluation is one engine search result. CP is normalized to White's
// point of view; MateIn is nonzero when the engine reports a forced mate
// (positive favors White).
type Evaluation struct {
	CP     int
	MateIn int
	PV     string
	Depth  int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
