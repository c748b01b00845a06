package vertex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"studio/internal/domain"
	"studio/internal/domain/model"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

func videoSpec() model.Spec {
	return model.Spec{
		ID:           "veo-3.0-generate",
		Endpoint:     "veo-3.0-generate-preview",
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  500 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		ProjectID: "proj",
		Location:  "us-central1",
		BaseURL:   baseURL,
		Tokens:    staticTokens("tok-123"),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSubmitReturnsOperationName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		params, _ := body["parameters"].(map[string]any)
		if params["aspectRatio"] != "9:16" {
			t.Errorf("aspectRatio = %v", params["aspectRatio"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "operations/op-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	name, _, err := c.Submit(context.Background(), videoSpec(), VideoRequest{Prompt: "p", AspectRatio: "9:16"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if name != "operations/op-1" {
		t.Fatalf("operation name = %q", name)
	}
}

func TestAwaitInlineVideo(t *testing.T) {
	payload := []byte("fake-mp4-bytes")
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":fetchPredictOperation") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		n := atomic.AddInt32(&fetches, 1)
		if n < 3 {
			_ = json.NewEncoder(w).Encode(map[string]any{"done": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"done": true,
			"response": map[string]any{
				"videos": []map[string]any{{
					"bytesBase64Encoded": base64.StdEncoding.EncodeToString(payload),
					"mimeType":           "video/mp4",
				}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	media, err := c.Await(context.Background(), videoSpec(), "operations/op-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(media.Data) != string(payload) {
		t.Fatalf("media bytes mismatch")
	}
	if media.MIME != "video/mp4" {
		t.Fatalf("mime = %q", media.MIME)
	}
}

func TestAwaitErrorTakesPrecedence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"done":  true,
			"error": map[string]any{"code": 3, "message": "invalid prompt"},
			"response": map[string]any{
				"videos": []map[string]any{{"gcsUri": "gs://bucket/file.mp4"}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Await(context.Background(), videoSpec(), "operations/op-1")
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("want provider failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid prompt") {
		t.Fatalf("error should carry the provider message: %v", err)
	}
}

func TestAwaitUnavailableIsSoftened(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"done":  true,
			"error": map[string]any{"code": 14, "message": "The service is currently unavailable."},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Await(context.Background(), videoSpec(), "operations/op-1")
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("want provider failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "busy right now") {
		t.Fatalf("unavailable should become a friendly busy message: %v", err)
	}
}

func TestAwaitReturnsStorageURIThenFetchDownloads(t *testing.T) {
	payload := []byte("remote-bytes")
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/download/file.mp4", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("download Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"done": true,
			"response": map[string]any{
				"videos": []map[string]any{{"gcsUri": srv.URL + "/download/file.mp4", "mimeType": "video/mp4"}},
			},
		})
	})

	c := newTestClient(t, srv.URL)
	media, err := c.Await(context.Background(), videoSpec(), "operations/op-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(media.Data) != 0 {
		t.Fatal("storage-backed result must not be pre-downloaded")
	}
	if media.URI == "" {
		t.Fatal("media should record the source uri")
	}

	data, mime, err := c.Fetch(context.Background(), media.URI)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("downloaded bytes mismatch")
	}
	if mime != "video/mp4" {
		t.Fatalf("mime = %q", mime)
	}
}

func TestModelIDOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/models/veo-custom-001:") {
			t.Errorf("override not applied, path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "operations/op-2"})
	}))
	defer srv.Close()

	c, err := NewClient(Options{
		ProjectID: "proj",
		BaseURL:   srv.URL,
		ModelID:   "veo-custom-001",
		Tokens:    staticTokens("tok-123"),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, _, err := c.Submit(context.Background(), videoSpec(), VideoRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"done": false})
	}))
	defer srv.Close()

	spec := videoSpec()
	spec.PollTimeout = 50 * time.Millisecond

	c := newTestClient(t, srv.URL)
	_, err := c.Await(context.Background(), spec, "operations/op-1")
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
}

func TestGsURIRewrite(t *testing.T) {
	c := newTestClient(t, "https://example.invalid")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.Fetch(ctx, "gs://bucket/key.mp4")
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if !strings.Contains(err.Error(), "storage.googleapis.com/bucket/key.mp4") {
		t.Fatalf("gs uri was not rewritten onto the http surface: %v", err)
	}
}
