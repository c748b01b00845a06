package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// TokenSource mints OAuth bearer tokens from a service-account key: a signed
// RS256 assertion exchanged at the account's token endpoint. Tokens are
// cached until shortly before expiry.
type TokenSource struct {
	account    serviceAccount
	httpClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource parses the service-account JSON blob. Malformed JSON or a
// missing key is a configuration error surfaced immediately.
func NewTokenSource(accountJSON string, httpClient *http.Client) (*TokenSource, error) {
	var account serviceAccount
	if err := json.Unmarshal([]byte(accountJSON), &account); err != nil {
		return nil, fmt.Errorf("vertex: parse service account json: %w", err)
	}
	if account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, fmt.Errorf("vertex: service account json missing client_email or private_key")
	}
	if account.TokenURI == "" {
		account.TokenURI = "https://oauth2.googleapis.com/token"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{account: account, httpClient: httpClient}, nil
}

// Token returns a valid bearer token, reusing the cached one when possible.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Now().Before(ts.expires) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", err
	}
	token, expiresIn, err := ts.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}
	ts.token = token
	// Refresh one minute early to avoid using a token at the edge of expiry.
	ts.expires = time.Now().Add(time.Duration(expiresIn)*time.Second - time.Minute)
	return ts.token, nil
}

func (ts *TokenSource) signAssertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ts.account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("vertex: parse service account private key: %w", err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.account.ClientEmail,
		"scope": cloudPlatformScope,
		"aud":   ts.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("vertex: sign token assertion: %w", err)
	}
	return assertion, nil
}

func (ts *TokenSource) exchange(ctx context.Context, assertion string) (string, int, error) {
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.account.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("vertex: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("vertex: token exchange: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("vertex: read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("vertex: token exchange status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", 0, fmt.Errorf("vertex: decode token response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", 0, fmt.Errorf("vertex: token exchange returned no access token")
	}
	if decoded.ExpiresIn <= 0 {
		decoded.ExpiresIn = 300
	}
	return decoded.AccessToken, decoded.ExpiresIn, nil
}
