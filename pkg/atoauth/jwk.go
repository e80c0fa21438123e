package atoauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// JWK is the EC private key shape the token broker returns alongside a
// freshly exchanged OAuth token. Only P-256 keys are supported; that is
// what AT Protocol DPoP binding uses.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
}

// ErrMalformedJWK indicates that a JWK is missing required components or
// carries an unsupported key type.
var ErrMalformedJWK = errors.New("malformed JWK")

// Validate checks that all components required for a private EC key are
// present and well-formed base64url values.
func (k *JWK) Validate() error {
	if k == nil {
		return fmt.Errorf("%w: nil key", ErrMalformedJWK)
	}
	if k.Kty != "EC" {
		return fmt.Errorf("%w: unsupported kty %q", ErrMalformedJWK, k.Kty)
	}
	if k.Crv != "P-256" {
		return fmt.Errorf("%w: unsupported crv %q", ErrMalformedJWK, k.Crv)
	}
	for name, v := range map[string]string{"x": k.X, "y": k.Y, "d": k.D} {
		if v == "" {
			return fmt.Errorf("%w: missing %s component", ErrMalformedJWK, name)
		}
		if _, err := base64.RawURLEncoding.DecodeString(v); err != nil {
			return fmt.Errorf("%w: %s is not base64url: %v", ErrMalformedJWK, name, err)
		}
	}
	return nil
}

// ECPrivateKey converts the JWK to a usable ECDSA private key.
func (k *JWK) ECPrivateKey() (*ecdsa.PrivateKey, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}

	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x: %v", ErrMalformedJWK, err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: y: %v", ErrMalformedJWK, err)
	}
	d, err := base64.RawURLEncoding.DecodeString(k.D)
	if err != nil {
		return nil, fmt.Errorf("%w: d: %v", ErrMalformedJWK, err)
	}

	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		},
		D: new(big.Int).SetBytes(d),
	}

	if !priv.PublicKey.Curve.IsOnCurve(priv.PublicKey.X, priv.PublicKey.Y) {
		return nil, fmt.Errorf("%w: point is not on P-256", ErrMalformedJWK)
	}

	return priv, nil
}

// PublicMap returns the public components as a map suitable for embedding
// in a DPoP proof header. The private component is deliberately excluded.
func (k *JWK) PublicMap() map[string]interface{} {
	return map[string]interface{}{
		"kty": k.Kty,
		"crv": k.Crv,
		"x":   k.X,
		"y":   k.Y,
	}
}

// GenerateJWK creates a fresh P-256 private key in JWK form.
func GenerateJWK() (*JWK, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return FromECPrivateKey(priv), nil
}

// FromECPrivateKey converts an ECDSA private key to JWK form.
func FromECPrivateKey(priv *ecdsa.PrivateKey) *JWK {
	byteLen := (priv.Curve.Params().BitSize + 7) / 8
	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(priv.X.FillBytes(make([]byte, byteLen))),
		Y:   base64.RawURLEncoding.EncodeToString(priv.Y.FillBytes(make([]byte, byteLen))),
		D:   base64.RawURLEncoding.EncodeToString(priv.D.FillBytes(make([]byte, byteLen))),
	}
}
