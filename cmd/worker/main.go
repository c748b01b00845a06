// The worker resumes generations whose api process died mid-poll. It claims
// stale POLLING rows one at a time and drives each to a terminal phase using
// the provider reference persisted at submit time.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"studio/internal/infra"
	"studio/internal/studio"
	"studio/internal/tracing"
)

const (
	staleAfter = 2 * time.Minute
	idleWait   = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init("studio-worker", cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing init failed")
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	svc, cleanup, err := studio.Build(ctx, cfg, runner, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build pipeline")
	}
	defer cleanup()

	logger.Info().Msg("worker started")
	svc.ResumeLoop(ctx, staleAfter, idleWait)
	logger.Info().Msg("worker stopped")
}
