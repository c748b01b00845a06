// Package studio runs the generation pipeline end to end: credit gate,
// payload construction, provider submit and poll, re-hosting, asset
// bookkeeping and the final charge. Handlers and the background worker both
// drive the same pipeline.
package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"studio/internal/domain"
	"studio/internal/domain/generation"
	"studio/internal/domain/model"
	"studio/internal/guard"
	"studio/internal/imaging"
	"studio/internal/infra"
	"studio/internal/ledger"
	"studio/internal/metrics"
	"studio/internal/providers/fal"
	"studio/internal/providers/gemini"
	"studio/internal/providers/vertex"
	"studio/internal/sqlinline"
	"studio/internal/storage"
)

// Captioner describes a reference image in prose for semantic remixing.
type Captioner interface {
	DescribeImage(ctx context.Context, data []byte, mime string) (string, error)
}

// Service owns the generation pipeline. Vertex and the captioner are
// optional; requests that need an absent provider fail with a clear error.
type Service struct {
	SQL     *infra.SQLRunner
	Ledger  *ledger.Ledger
	Guard   *guard.InFlight
	Assets  *storage.Materializer
	Fal     *fal.Client
	Vertex  *vertex.Client
	Caption Captioner
	Logger  zerolog.Logger
}

var _ Captioner = (*gemini.Client)(nil)

// Outcome is the synchronous result of a finished generation. The provider
// payload and raw response are carried for surfaces that echo the full
// exchange; base64 blobs inside them are redacted at the edge, not here.
type Outcome struct {
	GenerationID     string
	ModelID          string
	MediaURL         string
	MIME             string
	RemainingCredits int
	ProviderPayload  json.RawMessage
	ProviderRaw      json.RawMessage
}

// StatusView is the persisted state of a generation as seen by its owner.
type StatusView struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ModelID     string    `json:"model"`
	Phase       string    `json:"phase"`
	Prompt      string    `json:"prompt"`
	Error       string    `json:"error,omitempty"`
	MediaURL    string    `json:"media_url,omitempty"`
	OperationID string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func tracer() trace.Tracer {
	return otel.Tracer("studio/pipeline")
}

// Generate runs the whole pipeline for one request. The context carries the
// caller's cancellation: a dropped connection aborts polling, and the
// database row records how far the pipeline got.
func (s *Service) Generate(ctx context.Context, req generation.Request, country string) (*Outcome, error) {
	ctx, span := tracer().Start(ctx, "generation",
		trace.WithAttributes(
			attribute.String("generation.kind", string(req.Kind)),
			attribute.String("generation.model", req.ModelID),
		))
	defer span.End()

	spec, err := model.Resolve(req.ModelID, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("studio: model %q: %w", req.ModelID, err)
	}
	req.ModelID = spec.ID

	gateStart := time.Now()
	profile, err := s.Ledger.Gate(ctx, req.UserID, spec.Cost)
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("gate").Observe(time.Since(gateStart).Seconds())

	if err := s.Guard.Acquire(ctx, req.UserID); err != nil {
		return nil, err
	}
	defer s.Guard.Release(context.WithoutCancel(ctx), req.UserID)

	if err := s.resolveTemplate(ctx, &req); err != nil {
		return nil, err
	}
	if err := s.prepareImage(ctx, &req); err != nil {
		return nil, err
	}
	s.applyRemixCaption(ctx, &req)

	op, err := s.insertRequest(ctx, spec, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcome, err := s.run(ctx, spec, req, op)
	latency := int(time.Since(start).Milliseconds())

	usage := ledger.UsageEvent{
		UserID:    req.UserID,
		RequestID: op.RequestID,
		EventType: eventType(req.Kind),
		Success:   err == nil,
		LatencyMS: latency,
		Country:   country,
		Props:     map[string]any{"model": spec.ID},
	}
	if recErr := s.Ledger.RecordUsage(context.WithoutCancel(ctx), usage); recErr != nil {
		s.Logger.Warn().Err(recErr).Str("request_id", op.RequestID).Msg("usage event dropped")
	}

	if err != nil {
		phase := failurePhase(err)
		s.finish(context.WithoutCancel(ctx), op.RequestID, phase, err.Error())
		metrics.GenerationsTotal.WithLabelValues(spec.ID, string(phase)).Inc()
		return nil, err
	}

	metrics.GenerationsTotal.WithLabelValues(spec.ID, string(generation.PhaseCompleted)).Inc()

	// The asset is delivered and the row is COMPLETED; a failed debit must
	// not turn that into a client-visible error, or a retry would mint a
	// fresh charge token and generate again. settle logs and counts the
	// failure, the remaining balance is reported best-effort.
	remaining, chargeErr := s.settle(context.WithoutCancel(ctx), profile, op, spec.Cost)
	if chargeErr != nil {
		remaining = profile.Credits
		if !profile.Exempt() {
			remaining -= spec.Cost
		}
	}
	outcome.RemainingCredits = remaining
	return outcome, nil
}

// run takes the request from submit through materialized asset. The charge
// is deliberately left to the caller so that only a fully re-hosted result
// costs credits.
func (s *Service) run(ctx context.Context, spec model.Spec, req generation.Request, op generation.Operation) (*Outcome, error) {
	var result *generation.Result
	var sent []byte
	var fetch storage.AuthedFetch
	var err error

	switch spec.Provider {
	case model.ProviderFalQueue:
		result, sent, err = s.runFal(ctx, spec, req, op)
	case model.ProviderVertexLRO:
		result, sent, err = s.runVertex(ctx, spec, req, op)
		if s.Vertex != nil {
			fetch = s.Vertex.Fetch
		}
	default:
		err = fmt.Errorf("studio: no client for provider %q: %w", spec.Provider, domain.ErrUnsupportedModel)
	}
	if err != nil {
		return nil, err
	}
	outcome, err := s.persistResult(ctx, spec, req, op, result, fetch)
	if err != nil {
		return nil, err
	}
	outcome.ProviderPayload = sent
	outcome.ProviderRaw = result.Raw
	return outcome, nil
}

func (s *Service) runFal(ctx context.Context, spec model.Spec, req generation.Request, op generation.Operation) (*generation.Result, []byte, error) {
	payload := fal.BuildPayload(spec, req)
	sent, _ := json.Marshal(payload.Body)

	submitStart := time.Now()
	sub, err := s.Fal.Submit(ctx, spec, payload)
	metrics.StageDuration.WithLabelValues("submit").Observe(time.Since(submitStart).Seconds())
	if err != nil {
		return nil, sent, err
	}
	if sub.Immediate != "" {
		return &generation.Result{MediaURL: sub.Immediate, Raw: sub.Raw}, sent, nil
	}

	ref := providerRef(model.ProviderFalQueue, payload.Endpoint, sub.RequestID)
	if err := s.markPolling(ctx, op.RequestID, ref); err != nil {
		return nil, sent, err
	}

	pollStart := time.Now()
	url, raw, err := s.Fal.Await(ctx, spec, payload.Endpoint, sub.RequestID)
	metrics.StageDuration.WithLabelValues("poll").Observe(time.Since(pollStart).Seconds())
	if err != nil {
		return nil, sent, err
	}
	return &generation.Result{MediaURL: url, Raw: raw}, sent, nil
}

func (s *Service) runVertex(ctx context.Context, spec model.Spec, req generation.Request, op generation.Operation) (*generation.Result, []byte, error) {
	if s.Vertex == nil {
		return nil, nil, fmt.Errorf("studio: video provider is not configured: %w", domain.ErrUnsupportedModel)
	}
	vreq := vertex.VideoRequest{
		Prompt:      req.Prompt,
		AspectRatio: string(generation.NormalizeAspect(req.AspectRatio)),
		ImageData:   req.ImageData,
		ImageMIME:   req.ImageMIME,
	}
	sent, _ := json.Marshal(vertex.BuildPayload(vreq))

	submitStart := time.Now()
	opName, _, err := s.Vertex.Submit(ctx, spec, vreq)
	metrics.StageDuration.WithLabelValues("submit").Observe(time.Since(submitStart).Seconds())
	if err != nil {
		return nil, sent, err
	}

	if err := s.markPolling(ctx, op.RequestID, providerRef(model.ProviderVertexLRO, spec.Endpoint, opName)); err != nil {
		return nil, sent, err
	}

	pollStart := time.Now()
	media, err := s.Vertex.Await(ctx, spec, opName)
	metrics.StageDuration.WithLabelValues("poll").Observe(time.Since(pollStart).Seconds())
	if err != nil {
		return nil, sent, err
	}
	return &generation.Result{Data: media.Data, MediaURL: media.URI, MIME: media.MIME, Raw: media.Raw}, sent, nil
}

// persistResult re-hosts the provider output and records the asset. Any
// failure here fails the generation; a provider URL alone is never a result.
// The COMPLETED transition happens before the asset insert: if the row left
// the non-terminal phases in the meantime (a concurrent cancel), no asset is
// recorded and the caller never charges.
func (s *Service) persistResult(ctx context.Context, spec model.Spec, req generation.Request, op generation.Operation, result *generation.Result, fetch storage.AuthedFetch) (*Outcome, error) {
	matStart := time.Now()
	stored, err := s.Assets.Materialize(ctx, op.RequestID, req.Kind, result, fetch)
	metrics.StageDuration.WithLabelValues("materialize").Observe(time.Since(matStart).Seconds())
	if err != nil {
		return nil, err
	}

	if !s.finish(ctx, op.RequestID, generation.PhaseCompleted, "") {
		return nil, fmt.Errorf("studio: generation %s reached a terminal phase before completion: %w", op.RequestID, domain.ErrCanceled)
	}

	aspect := string(generation.NormalizeAspect(req.AspectRatio))
	props, _ := json.Marshal(map[string]any{"model": spec.ID})
	var assetID string
	row := s.SQL.QueryRow(ctx, sqlinline.QInsertAsset,
		req.UserID, op.RequestID, stored.Key, stored.URL, stored.MIME,
		stored.Bytes, result.Width, result.Height, aspect, string(props),
	)
	if err := row.Scan(&assetID); err != nil {
		return nil, fmt.Errorf("studio: record asset: %w", err)
	}

	return &Outcome{
		GenerationID: op.RequestID,
		ModelID:      spec.ID,
		MediaURL:     stored.URL,
		MIME:         stored.MIME,
	}, nil
}

// settle debits the charge once per token. A charge failure after a delivered
// asset is logged and counted but never claws the asset back.
func (s *Service) settle(ctx context.Context, profile *ledger.Profile, op generation.Operation, cost int) (int, error) {
	chargeStart := time.Now()
	token, err := uuid.Parse(op.ChargeToken)
	if err != nil {
		return 0, fmt.Errorf("studio: charge token: %w", err)
	}
	remaining, err := s.Ledger.Charge(ctx, profile, token, cost)
	metrics.StageDuration.WithLabelValues("charge").Observe(time.Since(chargeStart).Seconds())
	if err != nil {
		metrics.ChargeFailures.Inc()
		s.Logger.Error().Err(err).Str("request_id", op.RequestID).Msg("charge failed after successful generation")
		return 0, err
	}
	return remaining, nil
}

func (s *Service) resolveTemplate(ctx context.Context, req *generation.Request) error {
	if req.TemplateID == "" {
		return nil
	}
	var id, title, imageURL string
	row := s.SQL.QueryRow(ctx, sqlinline.QSelectTemplateByID, req.TemplateID)
	if err := row.Scan(&id, &title, &imageURL); err != nil {
		if infra.IsNoRows(err) {
			return fmt.Errorf("studio: template %s: %w", req.TemplateID, domain.ErrNotFound)
		}
		return fmt.Errorf("studio: load template: %w", err)
	}
	req.TemplateURL = imageURL
	return nil
}

// prepareImage downsamples an uploaded reference and, for queue models that
// take URLs rather than bytes, re-hosts it so the provider can fetch it.
func (s *Service) prepareImage(ctx context.Context, req *generation.Request) error {
	if len(req.ImageData) == 0 {
		return nil
	}
	prepared, err := imaging.Prepare(req.ImageData, req.ImageMIME)
	if err != nil {
		return fmt.Errorf("studio: %v: %w", err, domain.ErrInvalidInput)
	}
	req.ImageData = prepared.Data
	req.ImageMIME = prepared.MIME

	if req.ImageURL == "" {
		key := fmt.Sprintf("uploads/%s/%s%s", req.UserID, uuid.NewString(), uploadExt(prepared.MIME))
		storedKey, err := s.Assets.Store.Write(ctx, key, prepared.Data, prepared.MIME)
		if err != nil {
			return fmt.Errorf("studio: stage upload: %v: %w", err, domain.ErrStorageFailure)
		}
		req.ImageURL = s.Assets.Store.URL(storedKey)
	}
	return nil
}

// applyRemixCaption asks the captioner to describe the reference image and
// folds the description into the prompt. Caption failures degrade to the
// original prompt rather than failing the generation.
func (s *Service) applyRemixCaption(ctx context.Context, req *generation.Request) {
	if !req.SemanticRemix || len(req.ImageData) == 0 || s.Caption == nil {
		return
	}
	caption, err := s.Caption.DescribeImage(ctx, req.ImageData, req.ImageMIME)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("remix caption unavailable, using prompt as-is")
		return
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt + " Scene reference: " + caption)
}

func (s *Service) insertRequest(ctx context.Context, spec model.Spec, req generation.Request) (generation.Operation, error) {
	op := generation.Operation{
		ChargeToken: uuid.NewString(),
		ModelID:     spec.ID,
		Phase:       generation.PhaseSubmitted,
		SubmittedAt: time.Now(),
	}
	settings, _ := json.Marshal(map[string]any{
		"aspect_ratio":   string(generation.NormalizeAspect(req.AspectRatio)),
		"subject_lock":   req.SubjectLock,
		"semantic_remix": req.SemanticRemix,
		"template_id":    req.TemplateID,
	})
	row := s.SQL.QueryRow(ctx, sqlinline.QInsertGenerationRequest,
		req.UserID, string(req.Kind), spec.ID, req.Prompt, string(settings), op.ChargeToken,
	)
	if err := row.Scan(&op.RequestID); err != nil {
		return op, fmt.Errorf("studio: record request: %w", err)
	}
	return op, nil
}

func (s *Service) markPolling(ctx context.Context, requestID, ref string) error {
	if _, err := s.SQL.Exec(ctx, sqlinline.QSetGenerationPolling, requestID, ref); err != nil {
		return fmt.Errorf("studio: mark polling: %w", err)
	}
	return nil
}

// finish moves the row into a terminal phase and reports whether the
// transition happened. Rows already terminal (a concurrent cancel, a worker
// that got there first) are left untouched and reported false.
func (s *Service) finish(ctx context.Context, requestID string, phase generation.Phase, errText string) bool {
	tag, err := s.SQL.Exec(ctx, sqlinline.QFinishGeneration, requestID, string(phase), errText)
	if err != nil {
		s.Logger.Error().Err(err).Str("request_id", requestID).Msg("finish transition failed")
		return false
	}
	return tag.RowsAffected() > 0
}

// Status returns the owner's view of a generation, including the re-hosted
// media URL once an asset exists.
func (s *Service) Status(ctx context.Context, requestID, userID string) (*StatusView, error) {
	var v StatusView
	var settings []byte
	row := s.SQL.QueryRow(ctx, sqlinline.QSelectGenerationForUser, requestID, userID)
	var owner string
	if err := row.Scan(&v.ID, &owner, &v.Kind, &v.ModelID, &v.Phase, &v.Prompt, &settings, &v.OperationID, &v.Error, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("studio: generation %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("studio: load generation: %w", err)
	}

	if v.Phase == string(generation.PhaseCompleted) {
		var assetID, url, mime, aspect string
		var size int64
		var width, height int
		arow := s.SQL.QueryRow(ctx, sqlinline.QSelectAssetByRequest, requestID)
		if err := arow.Scan(&assetID, &url, &mime, &size, &width, &height, &aspect); err == nil {
			v.MediaURL = url
		}
	}
	return &v, nil
}

// Cancel marks a non-terminal generation CANCELED. Terminal rows are left
// untouched and reported as a conflict.
func (s *Service) Cancel(ctx context.Context, requestID, userID string) error {
	var id string
	row := s.SQL.QueryRow(ctx, sqlinline.QCancelGeneration, requestID, userID)
	if err := row.Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return fmt.Errorf("studio: generation %s is not cancelable: %w", requestID, domain.ErrNotFound)
		}
		return fmt.Errorf("studio: cancel generation: %w", err)
	}
	return nil
}

func providerRef(p model.Provider, endpoint, id string) string {
	return strings.Join([]string{string(p), endpoint, id}, "|")
}

func parseProviderRef(ref string) (model.Provider, string, string, error) {
	parts := strings.SplitN(ref, "|", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("studio: malformed provider ref %q", ref)
	}
	return model.Provider(parts[0]), parts[1], parts[2], nil
}

func failurePhase(err error) generation.Phase {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return generation.PhaseTimedOut
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrCanceled):
		return generation.PhaseCanceled
	default:
		return generation.PhaseFailed
	}
}

func eventType(kind generation.Kind) string {
	if kind == generation.KindVideo {
		return "VIDEO_GEN"
	}
	return "IMAGE_GEN"
}

func uploadExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
