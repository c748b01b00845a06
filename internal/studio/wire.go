package studio

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/guard"
	"studio/internal/infra"
	"studio/internal/ledger"
	"studio/internal/providers/fal"
	"studio/internal/providers/gemini"
	"studio/internal/providers/vertex"
	"studio/internal/storage"
)

// Build assembles the pipeline from configuration. The returned cleanup
// closes connections owned by the service; it is safe to call once.
func Build(ctx context.Context, cfg *infra.Config, runner *infra.SQLRunner, logger zerolog.Logger) (*Service, func(), error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	falClient, err := fal.NewClient(fal.Options{
		APIKey:  cfg.FalAPIKey,
		BaseURL: cfg.FalBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		return nil, nil, err
	}

	var vertexClient *vertex.Client
	if cfg.VertexEnabled() {
		tokens, err := vertex.NewTokenSource(cfg.GoogleServiceAccountJSON, nil)
		if err != nil {
			return nil, nil, err
		}
		vertexClient, err = vertex.NewClient(vertex.Options{
			ProjectID: cfg.GoogleProjectID,
			Location:  cfg.GoogleLocation,
			ModelID:   cfg.VeoModelID,
			Tokens:    tokens,
			Logger:    &logger,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	var captioner Captioner
	if cfg.GeminiAPIKey != "" {
		geminiClient, err := gemini.NewClient(gemini.Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Logger:  &logger,
		})
		if err != nil {
			return nil, nil, err
		}
		captioner = geminiClient
	}

	inflight := guard.NewInFlight(cfg.RedisAddr, "", 15*time.Minute, logger)

	svc := &Service{
		SQL:     runner,
		Ledger:  &ledger.Ledger{SQL: runner},
		Guard:   inflight,
		Assets:  &storage.Materializer{Store: store, Logger: logger},
		Fal:     falClient,
		Vertex:  vertexClient,
		Caption: captioner,
		Logger:  logger,
	}
	cleanup := func() {
		_ = inflight.Close()
	}
	return svc, cleanup, nil
}

func buildStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.S3Bucket != "" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.StorageBaseURL,
		})
	}
	path := cfg.StoragePath
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("studio: resolve storage path: %w", err)
		}
		path = abs
	}
	return storage.NewFileStore(path, cfg.StorageBaseURL)
}
