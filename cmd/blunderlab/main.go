package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/blunderlab/blunderlab/internal/analysis"
	"github.com/blunderlab/blunderlab/internal/api"
	"github.com/blunderlab/blunderlab/internal/clock/system"
	"github.com/blunderlab/blunderlab/internal/config"
	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/evaluator"
	"github.com/blunderlab/blunderlab/internal/logging"
	"github.com/blunderlab/blunderlab/internal/metrics"
	memorypublisher "github.com/blunderlab/blunderlab/internal/publisher/memory"
	pubsubpublisher "github.com/blunderlab/blunderlab/internal/publisher/pubsub"
	"github.com/blunderlab/blunderlab/internal/storage/gcs"
	"github.com/blunderlab/blunderlab/internal/storage/local"
	memorystorage "github.com/blunderlab/blunderlab/internal/storage/memory"
	"github.com/blunderlab/blunderlab/internal/storage/postgres"
	"github.com/blunderlab/blunderlab/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var (
		jobs    analysis.JobStore
		games   analysis.GameStore
		results analysis.ResultStore
		ping    api.Pinger
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("schema init failed", zap.Error(err))
		}
		jobs = postgres.NewJobStore(pool, logger.Named("jobstore"))
		games = postgres.NewGameStore(pool)
		results = postgres.NewResultStore(pool)
		ping = pool.Ping
	} else {
		logger.Warn("db.dsn not set; using in-memory stores")
		store := memorystorage.NewStore(system.New())
		jobs, games, results = store, store, store
	}

	artifacts, err := buildArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal("artifact store init failed", zap.Error(err))
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	engineFactory := func(ctx context.Context) (analysis.Engine, error) {
		sup, err := engine.New(engine.Config{
			Name:         cfg.Engine.Name,
			BinaryPath:   cfg.Engine.BinaryPath,
			StartTimeout: cfg.EngineStartTimeout(),
			EvalTimeout:  cfg.EngineEvalTimeout(),
			HashMB:       cfg.Engine.HashMB,
			MultiPV:      cfg.Engine.PrincipalVarMoves,
		}, logger.Named("engine"))
		if err != nil {
			return nil, err
		}
		if err := sup.Start(ctx); err != nil {
			return nil, err
		}
		return sup, nil
	}

	drainer := worker.New(jobs, games, results, artifacts, publisher, engineFactory, worker.Config{
		EngineName:       cfg.Engine.Name,
		Depth:            cfg.Engine.DepthDefault,
		StaleAfter:       cfg.StaleAfter(),
		AutoEnqueueLimit: cfg.Queue.AutoEnqueueLimit,
		ArtifactPrefix:   cfg.Storage.Prefix,
		Topic:            cfg.PubSub.TopicName,
		Evaluator: evaluator.Config{
			BlunderThresholdCP: cfg.Analysis.BlunderThresholdCP,
			MaxPositions:       cfg.Analysis.MaxPositions,
			Username:           cfg.Analysis.Username,
		},
	}, logger)

	apiServer := api.NewServer(jobs, drainer, ping, cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildArtifactStore picks GCS, local disk, or memory based on config.
func buildArtifactStore(ctx context.Context, cfg config.Config) (analysis.ArtifactStore, error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, err
		}
		return store, nil
	case cfg.Storage.LocalDir != "":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memorystorage.NewArtifactStore(), nil
	}
}

// buildPublisher connects to Pub/Sub when configured, otherwise keeps
// completion events in memory.
func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (analysis.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Warn("pubsub not configured; completion events stay in memory")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return nil, err
	}
	return pub, nil
}
