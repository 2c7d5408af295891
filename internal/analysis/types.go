// Package analysis defines core types shared across subsystems.
package analysis

import (
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Job status values persisted in the job store. Lifecycle:
// pending -> processing -> done|failed, with processing -> pending
// reserved for the stale-lease reaper.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one row of the durable analysis queue, unique on
// (GameID, EngineName, Depth).
type Job struct {
	ID         int64     `json:"id"`
	GameID     int64     `json:"game_id"`
	EngineName string    `json:"engine_name"`
	Depth      int       `json:"analysis_depth"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Game is the stored game record the worker analyzes. MoveText is SAN
// movetext ("e4 e5 Nf3 ..."); headers carry the original PGN tags the
// evaluator uses for user-color and opening identification.
type Game struct {
	ID       int64             `json:"id"`
	White    string            `json:"white"`
	Black    string            `json:"black"`
	Result   string            `json:"result"`
	Date     string            `json:"date,omitempty"`
	MoveText string            `json:"move_text"`
	PlyCount int               `json:"ply_count"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// PlyEvaluation is one engine evaluation along a game's move sequence.
// CP is always from White's point of view regardless of the side to move.
type PlyEvaluation struct {
	Ply        int    `json:"ply"`
	MoveNumber int    `json:"move_number"`
	SAN        string `json:"san,omitempty"`
	FEN        string `json:"fen"`
	CP         int    `json:"cp"`
	MateIn     int    `json:"mate_in,omitempty"`
	PV         string `json:"pv,omitempty"`
	Depth      int    `json:"depth"`
	IsBlunder  bool   `json:"is_blunder"`
}

// Result is the per-game output of a successful job. It supersedes any
// prior attempt for the same (GameID, EngineName, Depth) key.
type Result struct {
	GameID        int64           `json:"game_id"`
	EngineName    string          `json:"engine_name"`
	Depth         int             `json:"analysis_depth"`
	EngineVersion string          `json:"engine_version"`
	UserColor     string          `json:"user_color,omitempty"`
	Accuracy      *float64        `json:"accuracy,omitempty"`
	Blunders      int             `json:"blunders"`
	OpeningName   string          `json:"opening_name,omitempty"`
	Evaluations   []PlyEvaluation `json:"evaluations"`
	ArtifactURI   string          `json:"artifact_uri,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Coverage is a derived aggregate over committed queue state; it is
// recomputed on demand and never persisted.
type Coverage struct {
	TotalGames    int `json:"total_games"`
	AnalyzedGames int `json:"analyzed_games"`
	FailedGames   int `json:"failed_games"`
	PendingGames  int `json:"pending_games"`
}

// QueueStats breaks the queue down by status for diagnostics.
// StaleProcessing counts processing rows past the stale threshold.
type QueueStats struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Processing      int `json:"processing"`
	Done            int `json:"done"`
	Failed          int `json:"failed"`
	StaleProcessing int `json:"stale_processing"`
}

// EnqueueStats reports the outcome of one enqueue pass.
type EnqueueStats struct {
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

// DrainStats reports the outcome of one drain invocation.
type DrainStats struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	AutoEnqueued int `json:"auto_enqueued"`
}
