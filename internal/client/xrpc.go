package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultPDSURL is the fallback service endpoint when an account has no
// recorded personal data server.
const DefaultPDSURL = "https://bsky.social"

const xrpcTimeout = 30 * time.Second

// authorizeFunc attaches credentials to an outgoing request. The OAuth
// variant sets an Authorization: DPoP header plus a fresh proof; the
// app-password variant sets a Bearer token.
type authorizeFunc func(req *http.Request) error

// XRPCClient is a minimal authenticated XRPC transport: it covers the
// auth envelope (headers, error decoding, session endpoints) and leaves
// richer request/response typing to callers.
type XRPCClient struct {
	pdsURL     string
	httpClient *http.Client
	authorize  authorizeFunc
}

// NewXRPCClient creates a client against the given service endpoint.
// authorize may be nil for unauthenticated calls such as createSession.
func NewXRPCClient(pdsURL string, authorize authorizeFunc) *XRPCClient {
	if pdsURL == "" {
		pdsURL = DefaultPDSURL
	}
	return &XRPCClient{
		pdsURL:     strings.TrimSuffix(pdsURL, "/"),
		httpClient: &http.Client{Timeout: xrpcTimeout},
		authorize:  authorize,
	}
}

// PDSURL returns the service endpoint this client targets.
func (c *XRPCClient) PDSURL() string { return c.pdsURL }

// Query performs an XRPC query (HTTP GET) against the given NSID.
func (c *XRPCClient) Query(ctx context.Context, nsid string, params url.Values, out interface{}) error {
	endpoint := c.pdsURL + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// Procedure performs an XRPC procedure (HTTP POST) against the given
// NSID with a JSON body.
func (c *XRPCClient) Procedure(ctx context.Context, nsid string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pdsURL+"/xrpc/"+nsid, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *XRPCClient) do(req *http.Request, out interface{}) error {
	if c.authorize != nil {
		if err := c.authorize(req); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{StatusCode: resp.StatusCode}
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			reqErr.Code = body.Error
			reqErr.Message = body.Message
		}
		return reqErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// appSession holds the in-memory tokens of an app-password protocol
// session. These live for the process only; the durable credential is
// the stored app password itself.
type appSession struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// createAppSession performs the com.atproto.server.createSession
// handshake with handle and app password.
func createAppSession(ctx context.Context, pdsURL, handle, password string) (*appSession, error) {
	c := NewXRPCClient(pdsURL, nil)
	var out appSession
	err := c.Procedure(ctx, "com.atproto.server.createSession", map[string]string{
		"identifier": handle,
		"password":   password,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("createSession failed: %w", err)
	}
	return &out, nil
}

// refreshAppSession rotates an app-password session via
// com.atproto.server.refreshSession, authorized by the refresh JWT.
func refreshAppSession(ctx context.Context, pdsURL string, current *appSession) (*appSession, error) {
	refreshJwt := current.RefreshJwt
	c := NewXRPCClient(pdsURL, func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+refreshJwt)
		return nil
	})
	var out appSession
	if err := c.Procedure(ctx, "com.atproto.server.refreshSession", nil, &out); err != nil {
		return nil, fmt.Errorf("refreshSession failed: %w", err)
	}
	return &out, nil
}
