package oauthflow

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

// claimToken builds an unsigned but structurally valid JWT whose aud
// claim is the given value.
func claimToken(t *testing.T, aud string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header, _ := json.Marshal(map[string]string{"alg": "ES256", "typ": "at+jwt"})
	payload, err := json.Marshal(map[string]string{"aud": aud})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func TestParseCallbackURL(t *testing.T) {
	cfg := CallbackConfig{Scheme: "limit", UniversalLinkHost: "limit.app"}

	tests := []struct {
		name        string
		url         string
		intercepted bool
		code        string
		errParam    string
		errDesc     string
	}{
		{
			name:        "custom scheme with code",
			url:         "limit://auth?code=abc123",
			intercepted: true,
			code:        "abc123",
		},
		{
			name:        "custom scheme with error",
			url:         "limit://auth?error=access_denied&error_description=User+denied",
			intercepted: true,
			errParam:    "access_denied",
			errDesc:     "User denied",
		},
		{
			name:        "universal link with code",
			url:         "https://limit.app/auth?code=xyz",
			intercepted: true,
			code:        "xyz",
		},
		{
			name:        "universal link with deeper path",
			url:         "https://limit.app/auth/callback?code=xyz",
			intercepted: true,
			code:        "xyz",
		},
		{
			name:        "custom scheme wrong host",
			url:         "limit://settings?code=abc",
			intercepted: false,
		},
		{
			name:        "https wrong host",
			url:         "https://evil.example/auth?code=abc",
			intercepted: false,
		},
		{
			name:        "https wrong path",
			url:         "https://limit.app/profile?code=abc",
			intercepted: false,
		},
		{
			name:        "ordinary navigation",
			url:         "https://bsky.social/login",
			intercepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := ParseCallbackURL(cfg, tt.url)
			if ok != tt.intercepted {
				t.Fatalf("intercepted=%v, want %v", ok, tt.intercepted)
			}
			if !tt.intercepted {
				return
			}
			if result.Code != tt.code {
				t.Errorf("code=%q, want %q", result.Code, tt.code)
			}
			if result.Error != tt.errParam {
				t.Errorf("error=%q, want %q", result.Error, tt.errParam)
			}
			if result.ErrorDescription != tt.errDesc {
				t.Errorf("error_description=%q, want %q", result.ErrorDescription, tt.errDesc)
			}
		})
	}
}

func TestParseCallbackURLNoUniversalHostConfigured(t *testing.T) {
	cfg := CallbackConfig{Scheme: "limit"}
	if _, ok := ParseCallbackURL(cfg, "https://limit.app/auth?code=abc"); ok {
		t.Error("Expected universal link to be ignored when no host is configured")
	}
}

func TestCallbackResultErrorText(t *testing.T) {
	r := &CallbackResult{Error: "access_denied", ErrorDescription: "User denied"}
	if r.ErrorText() != "User denied" {
		t.Errorf("Expected description to win, got %q", r.ErrorText())
	}
	r = &CallbackResult{Error: "access_denied"}
	if r.ErrorText() != "access_denied" {
		t.Errorf("Expected error code fallback, got %q", r.ErrorText())
	}
}
