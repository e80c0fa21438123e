package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFlow(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/start", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{
			"authUrl":   "https://auth.example/authorize?state=xyz",
			"sessionId": "flow-1",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp, err := c.StartFlow(context.Background(), "alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/authorize?state=xyz", resp.AuthURL)
	assert.Equal(t, "alice.bsky.social", gotBody["handle"])
}

func TestStartFlowOmitsEmptyHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasHandle := body["handle"]
		assert.False(t, hasHandle)
		json.NewEncoder(w).Encode(map[string]string{"authUrl": "https://auth.example/authorize"})
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).StartFlow(context.Background(), "")
	require.NoError(t, err)
}

func TestStartFlowBackendFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200 status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
		{"missing authUrl", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(Config{BaseURL: srv.URL}).StartFlow(context.Background(), "")
			var backendErr *BackendError
			assert.ErrorAs(t, err, &backendErr)
		})
	}
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/tokens", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "abc123", body["code"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "a",
			"refreshToken": "r",
			"handle":       "alice.bsky.social",
			"did":          "did:plc:123",
			"pds":          "https://bsky.social",
			"expiresIn":    3600,
			"dpopKey": map[string]string{
				"kty": "EC", "crv": "P-256", "x": "eA", "y": "eQ", "d": "ZA",
			},
		})
	}))
	defer srv.Close()

	resp, err := NewClient(Config{BaseURL: srv.URL}).ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.AccessToken)
	assert.Equal(t, "did:plc:123", resp.DID)
	assert.Equal(t, 3600, resp.ExpiresIn)
	require.NotNil(t, resp.DPoPKey)
	assert.Equal(t, "EC", resp.DPoPKey.Kty)
	assert.Equal(t, "ZA", resp.DPoPKey.D)
}

// The broker emits the key either inline or wrapped under "jwk"; both
// must decode identically.
func TestDPoPKeyFieldWrappedShape(t *testing.T) {
	var resp TokenResponse
	raw := `{
		"accessToken": "a",
		"dpopKey": {"jwk": {"kty": "EC", "crv": "P-256", "x": "eA", "y": "eQ", "d": "ZA"}}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	require.NotNil(t, resp.DPoPKey)
	assert.Equal(t, "P-256", resp.DPoPKey.Crv)
	assert.Equal(t, "ZA", resp.DPoPKey.D)
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "old-refresh", body["refreshToken"])
		require.Equal(t, "did:plc:123", body["did"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "new-access",
			"refreshToken": "new-refresh",
			"expiresIn":    3600,
		})
	}))
	defer srv.Close()

	resp, err := NewClient(Config{BaseURL: srv.URL}).Refresh(context.Background(), "old-refresh", "did:plc:123")
	require.NoError(t, err)
	assert.Equal(t, "new-access", resp.AccessToken)
	assert.Equal(t, "new-refresh", resp.RefreshToken)
}

func TestRefreshInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Refresh(context.Background(), "dead", "did:plc:123")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshTransientFailureIsNotInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Refresh(context.Background(), "r", "did:plc:123")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidGrant))
	var backendErr *BackendError
	assert.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusBadGateway, backendErr.StatusCode)
}
