package dpop

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"limit/internal/secrets"
	"limit/pkg/atoauth"
	"limit/pkg/logging"
)

// ErrKeyNotFound is returned when a proof is requested for an account
// that has no DPoP key. OAuth accounts always import or generate a key
// during initial authentication, so hitting this is a state error; it
// fails the request, never the process.
var ErrKeyNotFound = errors.New("no DPoP key for account")

// KeyImportError wraps a failed key import with the underlying cause.
type KeyImportError struct {
	Err error
}

func (e *KeyImportError) Error() string {
	return fmt.Sprintf("DPoP key import failed: %v", e.Err)
}

func (e *KeyImportError) Unwrap() error { return e.Err }

// Manager owns exactly one EC keypair per account session ID and produces
// signed DPoP proofs for outgoing requests.
//
// Key material is read-only after import or generation: signing never
// mutates the key. Private keys are persisted through the secret store
// (namespaced by session ID) and cached in parsed form in memory.
type Manager struct {
	store *secrets.Store

	mu   sync.RWMutex
	keys map[string]*ecdsa.PrivateKey
	jwks map[string]*atoauth.JWK
}

// NewManager creates a DPoP key manager backed by the given secret store.
func NewManager(store *secrets.Store) *Manager {
	return &Manager{
		store: store,
		keys:  make(map[string]*ecdsa.PrivateKey),
		jwks:  make(map[string]*atoauth.JWK),
	}
}

// ImportKey stores a broker-supplied private key for the account. The key
// arrives as JWK components in the token response on first login.
func (m *Manager) ImportKey(key *atoauth.JWK, sessionID string) error {
	priv, err := key.ECPrivateKey()
	if err != nil {
		return &KeyImportError{Err: err}
	}

	data, err := json.Marshal(key)
	if err != nil {
		return &KeyImportError{Err: err}
	}
	if err := m.store.Set(sessionID, secrets.KeyDPoPKey, string(data)); err != nil {
		// Best-effort persistence: the in-memory key stays usable.
		logging.Warn("DPoP", "Failed to persist imported key for session %s: %v", sessionID, err)
	}

	m.mu.Lock()
	m.keys[sessionID] = priv
	m.jwks[sessionID] = key
	m.mu.Unlock()

	logging.Debug("DPoP", "Imported key for session %s", sessionID)
	return nil
}

// EnsureKey returns the account's key, generating and persisting a fresh
// one if none exists yet.
func (m *Manager) EnsureKey(sessionID string) (*atoauth.JWK, error) {
	if jwk, _, err := m.loadKey(sessionID); err == nil {
		return jwk, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	jwk, err := atoauth.GenerateJWK()
	if err != nil {
		return nil, err
	}
	if err := m.ImportKey(jwk, sessionID); err != nil {
		return nil, err
	}
	logging.Info("DPoP", "Generated new key for session %s", sessionID)
	return jwk, nil
}

// HasKey reports whether a key exists for the account.
func (m *Manager) HasKey(sessionID string) bool {
	_, _, err := m.loadKey(sessionID)
	return err == nil
}

// Forget drops the account's key from the in-memory cache. The persisted
// copy is removed separately when the account's namespace is purged.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.keys, sessionID)
	delete(m.jwks, sessionID)
	m.mu.Unlock()
}

// Sign produces a DPoP proof for one outgoing request: an ES256 JWT
// binding the HTTP method, the request URL (without query or fragment),
// the signing time, and -- when an access token is supplied -- the
// token's SHA-256 hash.
//
// Each call mints a unique jti, so no two proofs are ever identical;
// proofs must not be cached across requests.
func (m *Manager) Sign(method, rawURL, accessToken, sessionID string) (string, error) {
	jwk, priv, err := m.loadKey(sessionID)
	if err != nil {
		return "", err
	}

	htu, err := canonicalHTU(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid request URL for DPoP proof: %w", err)
	}

	claims := jwt.MapClaims{
		"jti": uuid.New().String(),
		"htm": method,
		"htu": htu,
		"iat": time.Now().Unix(),
	}
	if accessToken != "" {
		hash := sha256.Sum256([]byte(accessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(hash[:])
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = jwk.PublicMap()

	proof, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign DPoP proof: %w", err)
	}
	return proof, nil
}

// loadKey returns the account's key, reading through to the secret store
// when it isn't cached yet.
func (m *Manager) loadKey(sessionID string) (*atoauth.JWK, *ecdsa.PrivateKey, error) {
	m.mu.RLock()
	if priv, ok := m.keys[sessionID]; ok {
		jwk := m.jwks[sessionID]
		m.mu.RUnlock()
		return jwk, priv, nil
	}
	m.mu.RUnlock()

	raw, ok := m.store.Get(sessionID, secrets.KeyDPoPKey)
	if !ok {
		return nil, nil, ErrKeyNotFound
	}

	var jwk atoauth.JWK
	if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
		return nil, nil, &KeyImportError{Err: err}
	}
	priv, err := jwk.ECPrivateKey()
	if err != nil {
		return nil, nil, &KeyImportError{Err: err}
	}

	m.mu.Lock()
	m.keys[sessionID] = priv
	m.jwks[sessionID] = &jwk
	m.mu.Unlock()

	return &jwk, priv, nil
}

// canonicalHTU strips query and fragment from a request URL, per the DPoP
// htu claim definition.
func canonicalHTU(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q is not absolute", rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
