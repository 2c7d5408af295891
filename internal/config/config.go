// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"db"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// EngineConfig governs the external analysis engine process.
type EngineConfig struct {
	Name              string `mapstructure:"name"`
	BinaryPath        string `mapstructure:"binary_path"`
	DepthDefault      int    `mapstructure:"depth_default"`
	StartTimeoutSec   int    `mapstructure:"start_timeout_seconds"`
	EvalTimeoutSec    int    `mapstructure:"eval_timeout_seconds"`
	HashMB            int    `mapstructure:"hash_mb"`
	PrincipalVarMoves int    `mapstructure:"pv_moves"`
}

// AnalysisConfig tunes position evaluation.
type AnalysisConfig struct {
	BlunderThresholdCP int    `mapstructure:"blunder_threshold_cp"`
	MaxPositions       int    `mapstructure:"max_positions"`
	Username           string `mapstructure:"username"`
}

// QueueConfig governs claim batches and the stale-lease reaper.
type QueueConfig struct {
	ClaimBatch       int `mapstructure:"claim_batch"`
	MaxClaimBatch    int `mapstructure:"max_claim_batch"`
	EnqueueBatch     int `mapstructure:"enqueue_batch"`
	MaxEnqueueBatch  int `mapstructure:"max_enqueue_batch"`
	AutoEnqueueLimit int `mapstructure:"auto_enqueue_limit"`
	StaleMinutes     int `mapstructure:"stale_minutes"`
}

// StorageConfig sets destinations for evaluation artifacts.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BLUNDERLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("engine.name", "stockfish")
	v.SetDefault("engine.binary_path", "stockfish")
	v.SetDefault("engine.depth_default", 12)
	v.SetDefault("engine.start_timeout_seconds", 30)
	v.SetDefault("engine.eval_timeout_seconds", 20)
	v.SetDefault("engine.hash_mb", 64)
	v.SetDefault("engine.pv_moves", 1)
	v.SetDefault("analysis.blunder_threshold_cp", 200)
	v.SetDefault("analysis.max_positions", 60)
	v.SetDefault("queue.claim_batch", 10)
	v.SetDefault("queue.max_claim_batch", 50)
	v.SetDefault("queue.enqueue_batch", 25)
	v.SetDefault("queue.max_enqueue_batch", 200)
	v.SetDefault("queue.auto_enqueue_limit", 10)
	v.SetDefault("queue.stale_minutes", 15)
	v.SetDefault("storage.prefix", "evaluations")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.DepthDefault <= 0 {
		return fmt.Errorf("engine.depth_default must be > 0")
	}
	if c.Engine.StartTimeoutSec <= 0 {
		return fmt.Errorf("engine.start_timeout_seconds must be > 0")
	}
	if c.Analysis.BlunderThresholdCP <= 0 {
		return fmt.Errorf("analysis.blunder_threshold_cp must be > 0")
	}
	if c.Queue.ClaimBatch <= 0 || c.Queue.ClaimBatch > c.Queue.MaxClaimBatch {
		return fmt.Errorf("queue.claim_batch must be in [1, %d]", c.Queue.MaxClaimBatch)
	}
	if c.Queue.StaleMinutes <= 0 {
		return fmt.Errorf("queue.stale_minutes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// StaleAfter converts the reaper threshold into a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Queue.StaleMinutes) * time.Minute
}

// EngineStartTimeout bounds the process handshake.
func (c Config) EngineStartTimeout() time.Duration {
	return time.Duration(c.Engine.StartTimeoutSec) * time.Second
}

// EngineEvalTimeout bounds a single search round trip.
func (c Config) EngineEvalTimeout() time.Duration {
	return time.Duration(c.Engine.EvalTimeoutSec) * time.Second
}
