package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studio/internal/domain"
	"studio/internal/domain/generation"
	"studio/internal/domain/model"
	"studio/internal/infra"
	"studio/internal/ledger"
	"studio/internal/metrics"
	"studio/internal/sqlinline"
	"studio/internal/storage"
)

// claimedJob is one orphaned POLLING row picked up for resumption.
type claimedJob struct {
	RequestID   string
	UserID      string
	Kind        generation.Kind
	ModelID     string
	Prompt      string
	Settings    []byte
	ProviderRef string
	ChargeToken string
}

// ResumeOne claims at most one generation whose process died mid-poll and
// drives it to a terminal phase using the persisted provider reference. It
// returns false when no stale row exists.
func (s *Service) ResumeOne(ctx context.Context, staleAfter time.Duration) (bool, error) {
	var job claimedJob
	var kind string
	row := s.SQL.QueryRow(ctx, sqlinline.QClaimOrphanedGeneration, int(staleAfter.Seconds()))
	err := row.Scan(&job.RequestID, &job.UserID, &kind, &job.ModelID, &job.Prompt,
		&job.Settings, &job.ProviderRef, &job.ChargeToken)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("studio: claim orphaned generation: %w", err)
	}
	job.Kind = generation.Kind(kind)

	s.Logger.Info().
		Str("request_id", job.RequestID).
		Str("model", job.ModelID).
		Msg("resuming orphaned generation")

	if err := s.resume(ctx, job); err != nil {
		phase := failurePhase(err)
		s.finish(context.WithoutCancel(ctx), job.RequestID, phase, err.Error())
		metrics.GenerationsTotal.WithLabelValues(job.ModelID, string(phase)).Inc()
		return true, err
	}
	metrics.GenerationsTotal.WithLabelValues(job.ModelID, string(generation.PhaseCompleted)).Inc()
	return true, nil
}

func (s *Service) resume(ctx context.Context, job claimedJob) error {
	spec, err := model.Resolve(job.ModelID, job.Kind)
	if err != nil {
		return fmt.Errorf("studio: resume model %q: %w", job.ModelID, err)
	}
	provider, endpoint, refID, err := parseProviderRef(job.ProviderRef)
	if err != nil {
		return err
	}

	var result *generation.Result
	var fetch storage.AuthedFetch
	switch provider {
	case model.ProviderFalQueue:
		url, raw, err := s.Fal.Await(ctx, spec, endpoint, refID)
		if err != nil {
			return err
		}
		result = &generation.Result{MediaURL: url, Raw: raw}
	case model.ProviderVertexLRO:
		if s.Vertex == nil {
			return fmt.Errorf("studio: video provider is not configured: %w", domain.ErrUnsupportedModel)
		}
		media, err := s.Vertex.Await(ctx, spec, refID)
		if err != nil {
			return err
		}
		result = &generation.Result{Data: media.Data, MediaURL: media.URI, MIME: media.MIME, Raw: media.Raw}
		fetch = s.Vertex.Fetch
	default:
		return fmt.Errorf("studio: no client for provider %q: %w", provider, domain.ErrUnsupportedModel)
	}

	req := generation.Request{UserID: job.UserID, Kind: job.Kind, ModelID: spec.ID, Prompt: job.Prompt}
	var settings struct {
		AspectRatio string `json:"aspect_ratio"`
	}
	if len(job.Settings) > 0 {
		_ = json.Unmarshal(job.Settings, &settings)
	}
	req.AspectRatio = settings.AspectRatio

	op := generation.Operation{
		RequestID:   job.RequestID,
		ChargeToken: job.ChargeToken,
		ModelID:     spec.ID,
		Phase:       generation.PhasePolling,
		ProviderRef: job.ProviderRef,
	}
	if _, err := s.persistResult(ctx, spec, req, op, result, fetch); err != nil {
		return err
	}

	profile, err := s.loadProfile(ctx, job.UserID)
	if err != nil {
		return err
	}
	// The asset is already delivered; a failed debit is logged and counted
	// by settle but must not mark the row failed.
	_, _ = s.settle(ctx, profile, op, spec.Cost)
	return nil
}

func (s *Service) loadProfile(ctx context.Context, userID string) (*ledger.Profile, error) {
	var p ledger.Profile
	row := s.SQL.QueryRow(ctx, sqlinline.QSelectUserProfile, userID)
	if err := row.Scan(&p.ID, &p.Role, &p.Credits); err != nil {
		return nil, fmt.Errorf("studio: load profile: %w", err)
	}
	return &p, nil
}

// ResumeLoop polls for orphaned generations until the context ends. It backs
// off while the table is quiet.
func (s *Service) ResumeLoop(ctx context.Context, staleAfter, idleWait time.Duration) {
	for {
		claimed, err := s.ResumeOne(ctx, staleAfter)
		if err != nil {
			s.Logger.Error().Err(err).Msg("resume attempt failed")
		}
		if claimed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idleWait):
		}
	}
}
