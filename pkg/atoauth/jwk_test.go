package atoauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateJWKRoundTrip(t *testing.T) {
	jwk, err := GenerateJWK()
	require.NoError(t, err)
	require.NoError(t, jwk.Validate())

	priv, err := jwk.ECPrivateKey()
	require.NoError(t, err)

	again := FromECPrivateKey(priv)
	assert.Equal(t, jwk.X, again.X)
	assert.Equal(t, jwk.Y, again.Y)
	assert.Equal(t, jwk.D, again.D)
}

func TestJWKValidate(t *testing.T) {
	valid, err := GenerateJWK()
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*JWK)
		wantErr bool
	}{
		{"valid", func(k *JWK) {}, false},
		{"wrong kty", func(k *JWK) { k.Kty = "RSA" }, true},
		{"wrong crv", func(k *JWK) { k.Crv = "P-384" }, true},
		{"missing x", func(k *JWK) { k.X = "" }, true},
		{"missing y", func(k *JWK) { k.Y = "" }, true},
		{"missing d", func(k *JWK) { k.D = "" }, true},
		{"bad base64", func(k *JWK) { k.D = "!!not-base64!!" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := *valid
			tt.mutate(&k)
			err := k.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedJWK)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJWKValidateNil(t *testing.T) {
	var k *JWK
	assert.ErrorIs(t, k.Validate(), ErrMalformedJWK)
}

func TestPublicMapExcludesPrivateComponent(t *testing.T) {
	jwk, err := GenerateJWK()
	require.NoError(t, err)

	m := jwk.PublicMap()
	assert.Equal(t, "EC", m["kty"])
	assert.Equal(t, jwk.X, m["x"])
	_, hasD := m["d"]
	assert.False(t, hasD)
}
