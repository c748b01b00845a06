package vertex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/domain/model"
	"studio/internal/infra"
	"studio/internal/metrics"
)

// BearerSource supplies OAuth bearer tokens for API and media calls.
type BearerSource interface {
	Token(ctx context.Context) (string, error)
}

// Options configures the Vertex long-running-operation client.
type Options struct {
	ProjectID string
	Location  string
	BaseURL   string
	// ModelID, when set, replaces the publisher model id from the resolved
	// spec in every request path. It is the escape hatch for pointing the
	// service at a preview or allowlisted model revision.
	ModelID    string
	Tokens     BearerSource
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client speaks the predictLongRunning / fetchPredictOperation protocol.
type Client struct {
	projectID  string
	location   string
	baseURL    string
	modelID    string
	tokens     BearerSource
	httpClient *http.Client
	logger     *infra.Logger
}

// VideoRequest carries the inputs of one video generation.
type VideoRequest struct {
	Prompt      string
	AspectRatio string
	ImageData   []byte
	ImageMIME   string
}

// Media is the provider's final output, either inline bytes or a storage URI
// that still needs an authenticated fetch.
type Media struct {
	Data []byte
	URI  string
	MIME string
	Raw  json.RawMessage
}

type operationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error"`
	Response json.RawMessage `json:"response"`
}

type operationError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewClient constructs a Vertex client. The token source is required; the
// same bearer is used for operation calls and result downloads.
func NewClient(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, errors.New("vertex: token source is required")
	}
	if strings.TrimSpace(opts.ProjectID) == "" {
		return nil, errors.New("vertex: project id is required")
	}
	location := opts.Location
	if location == "" {
		location = "us-central1"
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1", location)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		projectID:  opts.ProjectID,
		location:   location,
		baseURL:    baseURL,
		modelID:    strings.TrimSpace(opts.ModelID),
		tokens:     opts.Tokens,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *Client) modelPath(endpoint string) string {
	if c.modelID != "" {
		endpoint = c.modelID
	}
	return fmt.Sprintf("%s/projects/%s/locations/%s/publishers/google/models/%s",
		c.baseURL, c.projectID, c.location, endpoint)
}

// BuildPayload assembles the predictLongRunning request body for a video
// request. Submit uses it verbatim; callers that echo the outbound payload
// build it the same way.
func BuildPayload(req VideoRequest) map[string]any {
	instance := map[string]any{"prompt": req.Prompt}
	if len(req.ImageData) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		instance["image"] = map[string]any{
			"bytesBase64Encoded": base64.StdEncoding.EncodeToString(req.ImageData),
			"mimeType":           mime,
		}
	}
	return map[string]any{
		"instances": []any{instance},
		"parameters": map[string]any{
			"aspectRatio": req.AspectRatio,
			"sampleCount": 1,
		},
	}
}

// Submit starts a long-running generation and returns the operation name.
func (c *Client) Submit(ctx context.Context, spec model.Spec, req VideoRequest) (string, json.RawMessage, error) {
	payload := BuildPayload(req)

	raw, err := c.post(ctx, c.modelPath(spec.Endpoint)+":predictLongRunning", payload)
	if err != nil {
		return "", nil, err
	}
	var decoded operationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", raw, fmt.Errorf("vertex: decode submit response: %w", err)
	}
	if decoded.Name == "" {
		return "", raw, fmt.Errorf("vertex: submit returned no operation name: %s: %w", strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	c.logger.Debug().Str("operation", decoded.Name).Str("model", spec.ID).Msg("vertex: operation started")
	return decoded.Name, raw, nil
}

// Await polls the operation until done or the model ceiling expires. When the
// completed operation carries an error it takes precedence over any response
// body; the provider's "unavailable" condition is softened into a retryable
// busy message instead of surfacing the raw status.
func (c *Client) Await(ctx context.Context, spec model.Spec, operationName string) (*Media, error) {
	deadline := time.NewTimer(spec.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(spec.PollInterval)
	defer ticker.Stop()

	attempts := 0
	defer func() {
		metrics.PollAttempts.WithLabelValues("vertex").Observe(float64(attempts))
	}()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("vertex: operation %s did not complete within %s: %w", operationName, spec.PollTimeout, domain.ErrTimeout)
		case <-ticker.C:
		}

		attempts++
		op, err := c.fetchOperation(ctx, spec, operationName)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.Warn().Err(err).Str("operation", operationName).Msg("vertex: transient poll failure")
			continue
		}
		if !op.Done {
			continue
		}
		if op.Error != nil {
			if isUnavailable(op.Error) {
				return nil, fmt.Errorf("vertex: the video service is busy right now, please retry shortly: %w", domain.ErrProviderFailure)
			}
			return nil, fmt.Errorf("vertex: operation failed: %s (code %d): %w", op.Error.Message, op.Error.Code, domain.ErrProviderFailure)
		}
		return extractMedia(op.Response)
	}
}

func (c *Client) fetchOperation(ctx context.Context, spec model.Spec, operationName string) (*operationResponse, error) {
	payload := map[string]any{"operationName": operationName}
	raw, err := c.post(ctx, c.modelPath(spec.Endpoint)+":fetchPredictOperation", payload)
	if err != nil {
		return nil, err
	}
	var decoded operationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("vertex: decode operation: %w", err)
	}
	return &decoded, nil
}

func extractMedia(response json.RawMessage) (*Media, error) {
	var decoded struct {
		Videos []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			GcsURI             string `json:"gcsUri"`
			MimeType           string `json:"mimeType"`
		} `json:"videos"`
	}
	if err := json.Unmarshal(response, &decoded); err != nil {
		return nil, fmt.Errorf("vertex: decode operation response: %w", err)
	}
	if len(decoded.Videos) == 0 {
		return nil, fmt.Errorf("vertex: completed operation carries no video: %s: %w", strings.TrimSpace(string(response)), domain.ErrProviderFailure)
	}
	video := decoded.Videos[0]
	mime := video.MimeType
	if mime == "" {
		mime = "video/mp4"
	}

	if video.BytesBase64Encoded != "" {
		data, err := base64.StdEncoding.DecodeString(video.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("vertex: decode inline video: %w", err)
		}
		return &Media{Data: data, MIME: mime, Raw: response}, nil
	}
	if video.GcsURI != "" {
		return &Media{URI: video.GcsURI, MIME: mime, Raw: response}, nil
	}
	return nil, fmt.Errorf("vertex: video carries neither inline bytes nor a storage uri: %w", domain.ErrProviderFailure)
}

// Fetch downloads a result object with the same bearer token used for the
// operation calls and reports its content type. gs:// URIs are rewritten
// onto the storage HTTP surface. The signature matches storage.AuthedFetch
// so the materializer can pull authenticated results directly.
func (c *Client) Fetch(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if strings.HasPrefix(uri, "gs://") {
		target = "https://storage.googleapis.com/" + strings.TrimPrefix(uri, "gs://")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("vertex: build download request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("vertex: download %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("vertex: download status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrStorageFailure)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("vertex: read result: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vertex: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vertex: build request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vertex: invoke: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vertex: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vertex: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	return raw, nil
}

func isUnavailable(opErr *operationError) bool {
	if opErr == nil {
		return false
	}
	if opErr.Code == 14 {
		return true
	}
	return strings.Contains(strings.ToLower(opErr.Message), "unavailable") ||
		strings.Contains(strings.ToLower(opErr.Status), "unavailable")
}
