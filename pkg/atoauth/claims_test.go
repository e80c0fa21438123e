package atoauth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeJWT builds an unsigned but structurally valid JWT carrying the
// given claims. Claim decoding never verifies signatures, so a garbage
// signature segment is fine.
func fakeJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "ES256", "typ": "at+jwt"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func TestDIDWebToURL(t *testing.T) {
	tests := []struct {
		did  string
		want string
	}{
		{"did:web:custom.pds.example", "https://custom.pds.example"},
		{"did:web:bsky.social", "https://bsky.social"},
		{"did:plc:abc123", ""},
		{"did:web:", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DIDWebToURL(tt.did), "did=%q", tt.did)
	}
}

func TestPDSFromAccessToken(t *testing.T) {
	token := fakeJWT(t, map[string]interface{}{
		"aud": "did:web:custom.pds.example",
		"sub": "did:plc:123",
	})
	assert.Equal(t, "https://custom.pds.example", PDSFromAccessToken(token))
}

func TestPDSFromAccessTokenNonDIDAudience(t *testing.T) {
	token := fakeJWT(t, map[string]interface{}{"aud": "some-service"})
	assert.Equal(t, "", PDSFromAccessToken(token))
}

func TestPDSFromAccessTokenGarbage(t *testing.T) {
	assert.Equal(t, "", PDSFromAccessToken("not-a-jwt"))
	assert.Equal(t, "", PDSFromAccessToken(""))
}

func TestExpiresWithinBasic(t *testing.T) {
	b := &TokenBundle{ExpiresAt: time.Now().Add(10 * time.Minute)}
	assert.False(t, b.ExpiresWithin(5*time.Minute))
	assert.True(t, b.ExpiresWithin(15*time.Minute))

	empty := &TokenBundle{}
	assert.True(t, empty.ExpiresWithin(time.Minute))
}
