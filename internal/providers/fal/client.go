package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/domain/model"
	"studio/internal/infra"
	"studio/internal/metrics"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("fal: api key is required")

// Early polls may 404 before the queue has indexed the request; up to this
// many attempts a 404 is treated as not-yet-visible rather than fatal.
const notFoundGrace = 3

// Options configures the queue client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client drives the submit-then-poll protocol of the fal queue API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Submission is the outcome of one submit call. Either Immediate carries the
// final media URL (the queue answered synchronously) or RequestID identifies
// the pending job.
type Submission struct {
	RequestID string
	Immediate string
	Raw       json.RawMessage
}

type statusResponse struct {
	Status string `json:"status"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://queue.fal.run/fal-ai"
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
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Submit posts the payload to the queue. A response that already carries an
// extractable result short-circuits the protocol; otherwise a request id is
// required and its absence is a hard failure.
func (c *Client) Submit(ctx context.Context, spec model.Spec, payload Payload) (*Submission, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(payload.Endpoint, "/")
	body, err := json.Marshal(payload.Body)
	if err != nil {
		return nil, fmt.Errorf("fal: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal: submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fal: read submit response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fal: submit status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}

	if url := ExtractResultURL(raw, spec.ResultPaths); url != "" {
		c.logger.Debug().Str("endpoint", payload.Endpoint).Msg("fal: submit returned synchronous result")
		return &Submission{Immediate: url, Raw: raw}, nil
	}

	var decoded struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("fal: decode submit response: %w", err)
	}
	if decoded.RequestID == "" {
		return nil, fmt.Errorf("fal: submit returned neither result nor request_id: %s: %w", strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	c.logger.Debug().Str("endpoint", payload.Endpoint).Str("request_id", decoded.RequestID).Msg("fal: request queued")
	return &Submission{RequestID: decoded.RequestID, Raw: raw}, nil
}

// Await polls the status endpoint until the job reaches a terminal state or
// the model's wall-clock ceiling expires. Transient poll failures keep the
// loop alive; only the ceiling or a terminal provider state ends it.
func (c *Client) Await(ctx context.Context, spec model.Spec, endpoint, requestID string) (string, json.RawMessage, error) {
	deadline := time.NewTimer(spec.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(spec.PollInterval)
	defer ticker.Stop()

	attempts := 0
	defer func() {
		metrics.PollAttempts.WithLabelValues("fal").Observe(float64(attempts))
	}()
	for {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-deadline.C:
			return "", nil, fmt.Errorf("fal: request %s did not complete within %s: %w", requestID, spec.PollTimeout, domain.ErrTimeout)
		case <-ticker.C:
		}

		attempts++
		status, raw, err := c.pollOnce(ctx, endpoint, requestID, attempts)
		if err != nil {
			if errors.Is(err, domain.ErrProviderFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", nil, err
			}
			c.logger.Warn().Err(err).Str("request_id", requestID).Int("attempt", attempts).Msg("fal: transient poll failure")
			continue
		}

		switch status {
		case "IN_QUEUE", "IN_PROGRESS":
			continue
		case "COMPLETED":
			return c.fetchResult(ctx, spec, endpoint, requestID)
		default:
			return "", raw, fmt.Errorf("fal: request %s finished with status %q: %s: %w", requestID, status, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, endpoint, requestID string, attempt int) (string, json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, strings.TrimLeft(endpoint, "/"), requestID)
	raw, code, err := c.get(ctx, url)
	if err != nil {
		return "", nil, err
	}
	if code == http.StatusNotFound {
		if attempt <= notFoundGrace {
			return "", nil, fmt.Errorf("fal: request %s not yet indexed", requestID)
		}
		return "", raw, fmt.Errorf("fal: request %s unknown to the queue: %w", requestID, domain.ErrProviderFailure)
	}
	if code >= 300 {
		return "", nil, fmt.Errorf("fal: poll status %d: %s", code, strings.TrimSpace(string(raw)))
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", nil, fmt.Errorf("fal: decode status: %w", err)
	}
	return decoded.Status, raw, nil
}

func (c *Client) fetchResult(ctx context.Context, spec model.Spec, endpoint, requestID string) (string, json.RawMessage, error) {
	url := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, strings.TrimLeft(endpoint, "/"), requestID)
	raw, code, err := c.get(ctx, url)
	if err != nil {
		return "", nil, err
	}
	if code >= 300 {
		return "", raw, fmt.Errorf("fal: fetch result status %d: %s: %w", code, strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	result := ExtractResultURL(raw, spec.ResultPaths)
	if result == "" {
		return "", raw, fmt.Errorf("fal: completed response carries no media url: %s: %w", strings.TrimSpace(string(raw)), domain.ErrProviderFailure)
	}
	return result, raw, nil
}

func (c *Client) get(ctx context.Context, url string) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("fal: build poll request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fal: poll: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("fal: read poll response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// ExtractResultURL probes the ordered dotted paths and returns the first
// non-empty string value. Path segments that parse as integers index arrays.
func ExtractResultURL(raw []byte, paths []string) string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	for _, path := range paths {
		if v := lookupPath(doc, strings.Split(path, ".")); v != "" {
			return v
		}
	}
	return ""
}

func lookupPath(doc any, segments []string) string {
	current := doc
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			current = node[seg]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return ""
			}
			current = node[idx]
		default:
			return ""
		}
	}
	if s, ok := current.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
