package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  dsn: postgres://localhost/blunderlab
engine:
  name: stockfish
  binary_path: /usr/bin/stockfish
  depth_default: 16
  start_timeout_seconds: 10
  eval_timeout_seconds: 25
  hash_mb: 256
analysis:
  blunder_threshold_cp: 150
  max_positions: 80
  username: alice
queue:
  claim_batch: 5
  stale_minutes: 30
storage:
  gcs_bucket: bucket
  prefix: evals
pubsub:
  project_id: proj
  topic_name: analysis-complete
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Engine.DepthDefault != 16 || cfg.Engine.BinaryPath != "/usr/bin/stockfish" {
		t.Fatalf("expected engine overrides to apply: %+v", cfg.Engine)
	}
	if cfg.Analysis.BlunderThresholdCP != 150 || cfg.Analysis.Username != "alice" {
		t.Fatalf("expected analysis overrides to apply: %+v", cfg.Analysis)
	}
	if cfg.Queue.MaxClaimBatch != 50 {
		t.Fatalf("expected default max claim batch to survive, got %d", cfg.Queue.MaxClaimBatch)
	}
	if got := cfg.StaleAfter(); got != 30*time.Minute {
		t.Fatalf("expected stale after 30m, got %v", got)
	}
	if got := cfg.EngineEvalTimeout(); got != 25*time.Second {
		t.Fatalf("expected eval timeout 25s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.Name != "stockfish" || cfg.Engine.DepthDefault != 12 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Analysis.BlunderThresholdCP != 200 {
		t.Fatalf("expected blunder threshold 200, got %d", cfg.Analysis.BlunderThresholdCP)
	}
	if cfg.Queue.ClaimBatch != 10 || cfg.Queue.StaleMinutes != 15 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Engine: EngineConfig{
			Name:            "stockfish",
			DepthDefault:    12,
			StartTimeoutSec: 30,
		},
		Analysis: AnalysisConfig{BlunderThresholdCP: 200},
		Queue: QueueConfig{
			ClaimBatch:    10,
			MaxClaimBatch: 50,
			StaleMinutes:  15,
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid depth",
			cfg: func() Config {
				c := base
				c.Engine.DepthDefault = 0
				return c
			}(),
			want: "engine.depth_default",
		},
		{
			name: "invalid blunder threshold",
			cfg: func() Config {
				c := base
				c.Analysis.BlunderThresholdCP = 0
				return c
			}(),
			want: "analysis.blunder_threshold_cp",
		},
		{
			name: "claim batch above maximum",
			cfg: func() Config {
				c := base
				c.Queue.ClaimBatch = 100
				return c
			}(),
			want: "queue.claim_batch",
		},
		{
			name: "invalid stale minutes",
			cfg: func() Config {
				c := base
				c.Queue.StaleMinutes = 0
				return c
			}(),
			want: "queue.stale_minutes",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %q", tc.want, err)
			}
		})
	}
}
