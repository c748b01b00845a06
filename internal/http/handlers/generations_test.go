package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"studio/internal/guard"
	"studio/internal/http/handlers"
	"studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/ledger"
	"studio/internal/middleware"
	"studio/internal/providers/fal"
	"studio/internal/storage"
	"studio/internal/studio"
)

const testSecret = "test-secret"

// stubDB replays the pipeline queries against in-memory state, mirroring the
// rows the real schema would return.
type stubDB struct {
	mu      sync.Mutex
	role    string
	credits int
	charges map[string]bool
	phases  map[string]string
}

func newStubDB(credits int) *stubDB {
	return &stubDB{role: "user", credits: credits, charges: make(map[string]bool), phases: make(map[string]string)}
}

func (s *stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(query, "usage_events"):
		return pgconn.CommandTag{}, nil
	case strings.Contains(query, "phase = 'POLLING'"):
		s.phases[args[0].(string)] = "POLLING"
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(query, "set phase = $2"):
		id := args[0].(string)
		switch s.phases[id] {
		case "SUBMITTED", "POLLING":
			s.phases[id] = args[1].(string)
			return pgconn.NewCommandTag("UPDATE 1"), nil
		}
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unsupported exec: %s", query)
}

func (s *stubDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unsupported query: %s", query)
}

func (s *stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(query, "credit_charges"):
		token := args[0].(string)
		amount := args[2].(int)
		if !s.charges[token] {
			s.charges[token] = true
			s.credits -= amount
		}
		remaining := s.credits
		return handlers.NewSimpleRow(func(dest ...any) error {
			*dest[0].(*int) = remaining
			return nil
		})
	case strings.Contains(query, "from users"):
		id := args[0].(string)
		role, credits := s.role, s.credits
		return handlers.NewSimpleRow(func(dest ...any) error {
			*dest[0].(*string) = id
			*dest[1].(*string) = role
			*dest[2].(*int) = credits
			return nil
		})
	case strings.Contains(query, "insert into generation_requests"):
		id := uuid.NewString()
		s.phases[id] = "SUBMITTED"
		return handlers.NewSimpleRow(func(dest ...any) error {
			*dest[0].(*string) = id
			return nil
		})
	case strings.Contains(query, "insert into assets"):
		id := uuid.NewString()
		return handlers.NewSimpleRow(func(dest ...any) error {
			*dest[0].(*string) = id
			return nil
		})
	}
	return handlers.NewSimpleRow(nil)
}

func fakeProvider(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			atomic.AddInt32(hits, 1)
			_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "q-1"})
		case strings.HasSuffix(r.URL.Path, "/status"):
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "COMPLETED"})
		case strings.HasSuffix(r.URL.Path, "/media.png"):
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"images": []map[string]string{{"url": srv.URL + "/media.png"}},
			})
		}
	}))
	return srv
}

func newTestRouter(t *testing.T, db *stubDB, falBase string) http.Handler {
	t.Helper()
	runner := infra.NewSQLRunner(db, zerolog.Nop())
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	falClient, err := fal.NewClient(fal.Options{APIKey: "k", BaseURL: falBase})
	if err != nil {
		t.Fatalf("fal.NewClient: %v", err)
	}
	svc := &studio.Service{
		SQL:    runner,
		Ledger: &ledger.Ledger{SQL: runner},
		Guard:  &guard.InFlight{Logger: zerolog.Nop()},
		Assets: &storage.Materializer{Store: store, Logger: zerolog.Nop()},
		Fal:    falClient,
		Logger: zerolog.Nop(),
	}
	app := &handlers.App{
		Config: &infra.Config{JWTSecret: testSecret, RateLimitPerMin: 100},
		SQL:    runner,
		Studio: svc,
		Logger: zerolog.Nop(),
	}
	return httpapi.NewRouter(app, "")
}

func authedRequest(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, "u1", "user", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGenerateImageHappyPath(t *testing.T) {
	var hits int32
	provider := fakeProvider(t, &hits)
	defer provider.Close()

	router := newTestRouter(t, newStubDB(10), provider.URL)

	req := authedRequest(t, http.MethodPost, "/v1/generations/images",
		`{"prompt":"a red fox","aspect_ratio":"1:1","model":"nano-banana"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		GenerationID     string   `json:"generation_id"`
		Images           []string `json:"images"`
		ImageURL         string   `json:"image_url"`
		RemainingCredits int      `json:"remaining_credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RemainingCredits != 7 {
		t.Fatalf("remaining_credits = %d, want 7", resp.RemainingCredits)
	}
	if resp.GenerationID == "" {
		t.Fatal("generation_id missing")
	}
	if len(resp.Images) != 1 || !strings.HasPrefix(resp.Images[0], "http://localhost:8080/static/") {
		t.Fatalf("images = %v, must be re-hosted", resp.Images)
	}
}

func TestGenerateImageInsufficientCredits(t *testing.T) {
	var hits int32
	provider := fakeProvider(t, &hits)
	defer provider.Close()

	router := newTestRouter(t, newStubDB(2), provider.URL)

	req := authedRequest(t, http.MethodPost, "/v1/generations/images", `{"prompt":"p"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("provider hit %d times before the gate", hits)
	}
	if !strings.Contains(rec.Body.String(), "insufficient_credits") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGenerateRequiresAuth(t *testing.T) {
	router := newTestRouter(t, newStubDB(10), "http://example.invalid")
	req := httptest.NewRequest(http.MethodPost, "/v1/generations/images", strings.NewReader(`{"prompt":"p"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGenerateUnknownModelIs400(t *testing.T) {
	router := newTestRouter(t, newStubDB(10), "http://example.invalid")
	req := authedRequest(t, http.MethodPost, "/v1/generations/images", `{"prompt":"p","model":"nope"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported_model") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestLabVideoEchoesProviderExchange(t *testing.T) {
	var hits int32
	provider := fakeProvider(t, &hits)
	defer provider.Close()

	router := newTestRouter(t, newStubDB(20), provider.URL)

	req := authedRequest(t, http.MethodPost, "/v1/lab/video",
		`{"prompt":"a red fox runs","model":"grok-imagine-video","aspect_ratio":"16:9"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success          bool            `json:"success"`
		VideoURL         string          `json:"video_url"`
		ProviderPayload  map[string]any  `json:"provider_payload"`
		ProviderResponse json.RawMessage `json:"provider_response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatalf("success = false, body %s", rec.Body.String())
	}
	if resp.ProviderPayload["prompt"] != "a red fox runs" {
		t.Fatalf("outbound payload not echoed: %v", resp.ProviderPayload)
	}
	if resp.ProviderPayload["aspect_ratio"] != "16:9" {
		t.Fatalf("outbound aspect not echoed: %v", resp.ProviderPayload)
	}
	if len(resp.ProviderResponse) == 0 || !strings.Contains(string(resp.ProviderResponse), "media.png") {
		t.Fatalf("raw provider response not echoed: %s", resp.ProviderResponse)
	}
	if !strings.HasPrefix(resp.VideoURL, "http://localhost:8080/static/") {
		t.Fatalf("video url must be re-hosted, got %q", resp.VideoURL)
	}
}

func TestLabVideoAlwaysAnswers200(t *testing.T) {
	router := newTestRouter(t, newStubDB(2), "http://example.invalid")

	// Even a gate rejection comes back as HTTP 200 with success=false.
	req := authedRequest(t, http.MethodPost, "/v1/lab/video", `{"prompt":"p","image_b64":"aGVsbG8="}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Request struct {
			ImageB64 string `json:"image_b64"`
		} `json:"request"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Fatal("success must be false")
	}
	if resp.Error == "" {
		t.Fatal("error message missing")
	}
	if resp.Request.ImageB64 != "[redacted]" {
		t.Fatalf("image_b64 echo = %q, must be redacted", resp.Request.ImageB64)
	}
}
