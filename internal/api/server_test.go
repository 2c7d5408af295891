package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blunderlab/blunderlab/internal/analysis"
	"github.com/blunderlab/blunderlab/internal/clock/system"
	"github.com/blunderlab/blunderlab/internal/config"
	"github.com/blunderlab/blunderlab/internal/storage/memory"
)

type stubDrainer struct {
	stats analysis.DrainStats
	err   error
	limit int
	depth int
}

func (d *stubDrainer) Drain(_ context.Context, limit, depth int) (analysis.DrainStats, error) {
	d.limit = limit
	d.depth = depth
	return d.stats, d.err
}

func testServerConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Engine: config.EngineConfig{
			Name:         "stockfish",
			DepthDefault: 12,
		},
		Queue: config.QueueConfig{
			ClaimBatch:      10,
			MaxClaimBatch:   50,
			EnqueueBatch:    25,
			MaxEnqueueBatch: 200,
			StaleMinutes:    15,
		},
	}
}

func newTestServer(t *testing.T, store *memory.Store, drainer Drainer, cfg config.Config) *httptest.Server {
	t.Helper()
	srv := NewServer(store, drainer, nil, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func seedStore(n int) *memory.Store {
	store := memory.NewStore(system.Clock{})
	for i := 0; i < n; i++ {
		store.AddGame(analysis.Game{White: "alice", Black: "bob", MoveText: "1. e4 e5"})
	}
	return store
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestEnqueueEndpoint(t *testing.T) {
	store := seedStore(3)
	ts := newTestServer(t, store, &stubDrainer{}, testServerConfig())

	resp := postJSON(t, ts.URL+"/v1/queue/enqueue", `{"limit": 10}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	stats := decode[analysis.EnqueueStats](t, resp)
	assert.Equal(t, analysis.EnqueueStats{Enqueued: 3}, stats)

	// Idempotent: the same keys are skipped on a repeat call.
	resp = postJSON(t, ts.URL+"/v1/queue/enqueue", `{"limit": 10}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	stats = decode[analysis.EnqueueStats](t, resp)
	assert.Equal(t, analysis.EnqueueStats{Skipped: 3}, stats)
}

func TestEnqueueEndpointDefaultsAndValidation(t *testing.T) {
	store := seedStore(1)
	ts := newTestServer(t, store, &stubDrainer{}, testServerConfig())

	// Empty body falls back to configured defaults.
	resp := postJSON(t, ts.URL+"/v1/queue/enqueue", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/queue/enqueue", `{"depth": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/queue/enqueue", `{invalid`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestDrainEndpointClampsLimit(t *testing.T) {
	drainer := &stubDrainer{stats: analysis.DrainStats{Processed: 2, Succeeded: 2}}
	ts := newTestServer(t, seedStore(0), drainer, testServerConfig())

	resp := postJSON(t, ts.URL+"/v1/queue/drain", `{"limit": 9999, "depth": 16}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[analysis.DrainStats](t, resp)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 50, drainer.limit)
	assert.Equal(t, 16, drainer.depth)

	// Default batch when no limit is given.
	resp = postJSON(t, ts.URL+"/v1/queue/drain", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.Equal(t, 10, drainer.limit)
	assert.Equal(t, 12, drainer.depth)
}

func TestDrainEndpointReportsFailure(t *testing.T) {
	drainer := &stubDrainer{err: errors.New("engine failed to start")}
	ts := newTestServer(t, seedStore(0), drainer, testServerConfig())

	resp := postJSON(t, ts.URL+"/v1/queue/drain", `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCoverageEndpoint(t *testing.T) {
	store := seedStore(2)
	ts := newTestServer(t, store, &stubDrainer{}, testServerConfig())

	ctx := context.Background()
	_, err := store.EnqueueMissing(ctx, 10, "stockfish", 12)
	require.NoError(t, err)
	jobs, err := store.Claim(ctx, 1, "stockfish", 12)
	require.NoError(t, err)
	require.NoError(t, store.MarkDone(ctx, jobs[0].ID))

	resp, err := http.Get(ts.URL + "/v1/coverage?engine=stockfish&depth=12")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cov := decode[analysis.Coverage](t, resp)
	assert.Equal(t, analysis.Coverage{TotalGames: 2, AnalyzedGames: 1, PendingGames: 1}, cov)

	resp, err = http.Get(ts.URL + "/v1/coverage?depth=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestDiagnosticsEndpointRequeuesOnDemand(t *testing.T) {
	store := seedStore(1)
	ts := newTestServer(t, store, &stubDrainer{}, testServerConfig())

	ctx := context.Background()
	_, err := store.EnqueueMissing(ctx, 10, "stockfish", 12)
	require.NoError(t, err)
	_, err = store.Claim(ctx, 1, "stockfish", 12)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/v1/queue/diagnostics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	diag := decode[diagnosticsResponse](t, resp)
	assert.Equal(t, 1, diag.Processing)
	assert.Equal(t, 0, diag.Requeued)
	assert.False(t, diag.Stalled)

	// Fresh leases survive an explicit requeue request.
	resp, err = http.Get(ts.URL + "/v1/queue/diagnostics?requeue=true")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	diag = decode[diagnosticsResponse](t, resp)
	assert.Equal(t, 0, diag.Requeued)
	assert.Equal(t, 1, diag.Processing)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, seedStore(0), &stubDrainer{}, testServerConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestReadyzReportsUnavailableDependency(t *testing.T) {
	srv := NewServer(seedStore(0), &stubDrainer{}, func(context.Context) error {
		return errors.New("connection refused")
	}, testServerConfig(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIKeyMiddleware(t *testing.T) {
	cfg := testServerConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "sekrit"}
	ts := newTestServer(t, seedStore(0), &stubDrainer{}, cfg)

	resp, err := http.Get(ts.URL + "/v1/coverage")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/coverage", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
