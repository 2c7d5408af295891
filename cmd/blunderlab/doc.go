// Package main hosts the analysis service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, queue management
//     (enqueue, drain, diagnostics) and coverage endpoints. Batch limits are
//     clamped against the configured maximums before touching the store.
//   - Durable queue: analysis jobs live in Postgres keyed by
//     (game, engine, depth). Claims take row leases via FOR UPDATE SKIP LOCKED
//     so any number of service replicas can drain concurrently; expired leases
//     are returned to pending by the reaper rather than by any in-process
//     bookkeeping.
//   - Engine: internal/engine.Supervisor owns one UCI engine process
//     (Stockfish by default) and serializes searches over it. A crash fails
//     the in-flight job and the drainer starts a fresh process for the next
//     one.
//   - Evaluation: internal/evaluator replays stored move text, walks sampled
//     positions through the engine, flags blunders against the configured
//     centipawn threshold and scores the user's accuracy.
//   - Persistence & fanout: results are upserted into Postgres; the full
//     evaluation payload is written to the configured artifact store
//     (memory/local/GCS) and a compact completion event is published when a
//     Pub/Sub topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files
//     (BLUNDERLAB_ prefix); zap provides structured logging; Prometheus
//     metrics are exported via /metrics.
//
// Operational notes:
//   - Drains are synchronous: POST /v1/queue/drain claims a batch, processes
//     it sequentially against one engine process, and reports the outcome.
//     Scale-out happens by running more replicas, not more in-process workers.
//   - Shutdown is coordinated via context cancellation from SIGINT/SIGTERM;
//     leases held by an interrupted drain expire and are requeued.
//
// Run locally: go run ./cmd/blunderlab -config config.yaml, or rely solely on
// BLUNDERLAB_* env overrides. Without BLUNDERLAB_DB_DSN the service runs
// against in-memory stores, which is useful for development only.
package main
