package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/domain/generation"
)

// maxAssetBytes caps a single downloaded asset.
const maxAssetBytes = 512 << 20

// AuthedFetch fetches a provider URI with provider credentials attached.
// Used for results that live behind authenticated storage.
type AuthedFetch func(ctx context.Context, uri string) ([]byte, string, error)

// Materializer re-hosts provider output into our own object store. Provider
// URLs are ephemeral, so a generation only succeeds once its media has been
// copied out.
type Materializer struct {
	Store      ObjectStore
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Stored describes a re-hosted asset.
type Stored struct {
	Key   string
	URL   string
	MIME  string
	Bytes int
}

// Materialize writes the generation result into the object store and returns
// the durable location. Any failure here is fatal for the generation.
func (m *Materializer) Materialize(ctx context.Context, requestID string, kind generation.Kind, res *generation.Result, fetch AuthedFetch) (*Stored, error) {
	data := res.Data
	mime := res.MIME

	if len(data) == 0 {
		if res.MediaURL == "" {
			return nil, fmt.Errorf("storage: result has no media: %w", domain.ErrStorageFailure)
		}
		var err error
		if fetch != nil {
			data, mime, err = fetch(ctx, res.MediaURL)
		} else {
			data, mime, err = m.download(ctx, res.MediaURL)
		}
		if err != nil {
			return nil, fmt.Errorf("storage: fetch %s: %v: %w", res.MediaURL, err, domain.ErrStorageFailure)
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("storage: empty media body: %w", domain.ErrStorageFailure)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	key := assetKey(requestID, kind, mime)
	storedKey, err := m.Store.Write(ctx, key, data, mime)
	if err != nil {
		return nil, fmt.Errorf("storage: write %s: %v: %w", key, err, domain.ErrStorageFailure)
	}

	m.Logger.Debug().
		Str("key", storedKey).
		Str("mime", mime).
		Int("bytes", len(data)).
		Msg("asset materialized")

	return &Stored{
		Key:   storedKey,
		URL:   m.Store.URL(storedKey),
		MIME:  mime,
		Bytes: len(data),
	}, nil
}

func (m *Materializer) download(ctx context.Context, url string) ([]byte, string, error) {
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func assetKey(requestID string, kind generation.Kind, mime string) string {
	prefix := "generated/images"
	if kind == generation.KindVideo {
		prefix = "generated/videos"
	}
	return fmt.Sprintf("%s/%s/output-01%s", prefix, requestID, extForMIME(mime))
}

func extForMIME(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(mime, "video/webm"):
		return ".webm"
	case strings.HasPrefix(mime, "image/png"):
		return ".png"
	case strings.HasPrefix(mime, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mime, "image/webp"):
		return ".webp"
	default:
		return ".bin"
	}
}
