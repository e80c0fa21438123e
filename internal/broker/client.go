package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"limit/pkg/atoauth"
	"limit/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for broker requests. The core
// imposes no timeout policy beyond what the transport provides.
const DefaultHTTPTimeout = 30 * time.Second

// ErrInvalidGrant indicates the refresh token itself is dead: the broker
// rejected it deterministically, not transiently. Callers must not retry
// a refresh that failed this way.
var ErrInvalidGrant = errors.New("invalid grant")

// BackendError is any non-200 or malformed response from the broker.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("broker returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker error: %s", e.Message)
}

// Client talks to the backend token broker. The broker performs the OAuth
// authorization-code exchange on the app's behalf so client secrets never
// live on-device.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures the broker client.
type Config struct {
	// BaseURL is the broker's base URL, e.g. https://backend.example.com.
	BaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// NewClient creates a broker client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
	}
}

// StartFlowResponse is the broker's answer to a flow-start request.
type StartFlowResponse struct {
	AuthURL   string `json:"authUrl"`
	Handle    string `json:"handle,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// TokenResponse is the broker's answer to a code exchange.
type TokenResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	Handle       string        `json:"handle"`
	DID          string        `json:"did"`
	PDS          string        `json:"pds"`
	DPoPKey      *DPoPKeyField `json:"dpopKey,omitempty"`
	ExpiresIn    int           `json:"expiresIn,omitempty"`
}

// RefreshResponse is the broker's answer to a refresh exchange.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// DPoPKeyField accepts both key shapes the broker emits: the JWK inline
// ({kty,crv,x,y,d}) or wrapped ({jwk:{...}}).
type DPoPKeyField struct {
	atoauth.JWK
}

// UnmarshalJSON implements the dual-shape decoding.
func (f *DPoPKeyField) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		JWK *atoauth.JWK `json:"jwk"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.JWK != nil {
		f.JWK = *wrapped.JWK
		return nil
	}
	return json.Unmarshal(data, &f.JWK)
}

// StartFlow asks the broker to begin an authorization flow. The handle is
// optional; when set it pre-fills the login form.
func (c *Client) StartFlow(ctx context.Context, handle string) (*StartFlowResponse, error) {
	body := map[string]string{}
	if handle != "" {
		body["handle"] = handle
	}

	var resp StartFlowResponse
	if err := c.post(ctx, "/api/auth/start", body, &resp); err != nil {
		return nil, err
	}
	if resp.AuthURL == "" {
		return nil, &BackendError{Message: "start response missing authUrl"}
	}
	return &resp, nil
}

// ExchangeCode trades an authorization code for a token bundle.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/api/auth/tokens", map[string]string{"code": code}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &BackendError{Message: "token response missing accessToken"}
	}
	return &resp, nil
}

// Refresh trades a stored refresh token for a fresh access/refresh pair.
// Returns ErrInvalidGrant when the broker reports the refresh token is
// dead; any other failure is a transient BackendError.
func (c *Client) Refresh(ctx context.Context, refreshToken, did string) (*RefreshResponse, error) {
	body := map[string]string{
		"refreshToken": refreshToken,
		"did":          did,
	}

	var resp RefreshResponse
	if err := c.post(ctx, "/api/auth/refresh", body, &resp); err != nil {
		var backendErr *BackendError
		if errors.As(err, &backendErr) && isInvalidGrantBody(backendErr) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, backendErr.Message)
		}
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &BackendError{Message: "refresh response missing accessToken"}
	}
	return &resp, nil
}

// isInvalidGrantBody reports whether a broker error body names the
// invalid_grant OAuth error code.
func isInvalidGrantBody(e *BackendError) bool {
	return (e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized) &&
		strings.Contains(e.Message, "invalid_grant")
}

// post issues one JSON POST against the broker and decodes a 200 response
// into out. Every other status becomes a BackendError.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &BackendError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &BackendError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &BackendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BackendError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		logging.Debug("Broker", "POST %s failed with status %d", path, resp.StatusCode)
		return &BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &BackendError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response body: %v", err)}
	}
	return nil
}
