package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"limit/internal/broker"
	"limit/internal/dpop"
	"limit/internal/secrets"
	"limit/pkg/atoauth"
	"limit/pkg/logging"
)

// refreshWindow is the per-account expiry check: a stored token with less
// than this much lifetime left needs a refresh. The coordinator layers a
// more conservative 30-minute proactive window on top of this; the two
// thresholds are intentionally different.
const refreshWindow = 5 * time.Minute

// Deps are the collaborators a session configuration needs. They are
// process-wide services constructed once at startup and injected here.
type Deps struct {
	Store     *secrets.Store
	DPoP      *dpop.Manager
	Broker    *broker.Client
	Directory *Directory
}

// Config is the per-account adapter the protocol client calls to obtain
// a valid token and to know when to refresh. It is bound 1:1 to one
// session ID and is the sole writer of that namespace in the secret
// store; all mutation is serialized behind one mutex.
type Config struct {
	deps      Deps
	sessionID string

	mu       sync.Mutex
	authType AuthType
	handle   string
	did      string
	pdsURL   string
}

// NewFromOAuth creates a session configuration from a freshly exchanged
// token bundle, persisting everything (including the DPoP key) and
// registering the identity with the process-wide directory.
func NewFromOAuth(deps Deps, sessionID string, bundle *atoauth.TokenBundle) *Config {
	c := &Config{deps: deps, sessionID: sessionID, authType: AuthTypeOAuth}
	c.AuthenticateWithOAuth(bundle)
	return c
}

// NewFromAppPassword creates a session configuration from user-supplied
// handle and app password. No DPoP key is created for this shape.
func NewFromAppPassword(deps Deps, sessionID, handle, password string) *Config {
	c := &Config{deps: deps, sessionID: sessionID, authType: AuthTypeAppPassword}
	c.Authenticate(handle, password)
	return c
}

// Load reconstructs a session configuration from persisted secrets alone.
// The auth type is classified by which secrets are present; an empty
// namespace yields AuthTypeUnknown rather than defaulting, so a lost
// credential never masquerades as an app-password account.
func Load(deps Deps, sessionID string) *Config {
	c := &Config{deps: deps, sessionID: sessionID}
	c.authType = classify(deps.Store, sessionID)
	c.handle, _ = deps.Store.Get(sessionID, secrets.KeyHandle)
	c.did, _ = deps.Store.Get(sessionID, secrets.KeyDID)
	c.pdsURL, _ = deps.Store.Get(sessionID, secrets.KeyPDS)

	if c.authType == AuthTypeUnknown {
		logging.Warn("Session", "No credentials found for session %s; awaiting login", sessionID)
	}

	deps.Directory.Register(Identity{
		SessionID: sessionID,
		Handle:    c.handle,
		DID:       c.did,
		PDSURL:    c.pdsURL,
	})
	return c
}

// SessionID returns the stable identifier namespacing this account.
func (c *Config) SessionID() string { return c.sessionID }

// AuthType returns the account's credential shape.
func (c *Config) AuthType() AuthType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authType
}

// Handle returns the latest known handle.
func (c *Config) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// DID returns the account's decentralized identifier.
func (c *Config) DID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.did
}

// PDSURL returns the account's personal data server endpoint.
func (c *Config) PDSURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pdsURL
}

// Authenticate stores app-password credentials. The protocol handshake
// itself is the outer client's job; this only persists what the user
// typed. Converting an OAuth account back to app-password is not a
// supported path, so no OAuth secrets are touched here.
func (c *Config) Authenticate(handle, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.authType = AuthTypeAppPassword
	c.handle = handle

	c.persist(secrets.KeyHandle, handle)
	c.persist(secrets.KeyAppPassword, password)

	c.deps.Directory.Register(Identity{SessionID: c.sessionID, Handle: handle, DID: c.did, PDSURL: c.pdsURL})
}

// AuthenticateWithOAuth persists a token bundle and registers the session
// identity. It is called both at login time and after every refresh.
// Converting an account from app-password purges the old raw password
// from the namespace: a namespace holds one credential shape at a time.
func (c *Config) AuthenticateWithOAuth(bundle *atoauth.TokenBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authType == AuthTypeAppPassword {
		if err := c.deps.Store.Delete(c.sessionID, secrets.KeyAppPassword); err != nil {
			logging.Warn("Session", "Failed to purge app password for session %s: %v", c.sessionID, err)
		}
	}
	c.authType = AuthTypeOAuth
	c.handle = bundle.Handle
	c.did = bundle.DID
	c.pdsURL = bundle.PDSURL

	c.persist(secrets.KeyAccessToken, bundle.AccessToken)
	c.persist(secrets.KeyRefreshToken, bundle.RefreshToken)
	c.persist(secrets.KeyHandle, bundle.Handle)
	c.persist(secrets.KeyDID, bundle.DID)
	c.persist(secrets.KeyPDS, bundle.PDSURL)
	if !bundle.ExpiresAt.IsZero() {
		c.persist(secrets.KeyExpiresAt, bundle.ExpiresAt.Format(time.RFC3339))
	}

	// The broker's dpopKey field is optional: import what it sent, or
	// generate a local key so the account can still sign requests.
	if bundle.DPoPKey != nil {
		if err := c.deps.DPoP.ImportKey(bundle.DPoPKey, c.sessionID); err != nil {
			logging.Error("Session", err, "Failed to import DPoP key for session %s", c.sessionID)
		}
	} else {
		if _, err := c.deps.DPoP.EnsureKey(c.sessionID); err != nil {
			logging.Error("Session", err, "Failed to provision DPoP key for session %s", c.sessionID)
		}
	}

	c.deps.Directory.Register(Identity{
		SessionID: c.sessionID,
		Handle:    bundle.Handle,
		DID:       bundle.DID,
		PDSURL:    bundle.PDSURL,
	})
}

// persist writes one secret, logging rather than failing on error.
// Best-effort persistence on the login path is a deliberate property of
// this design; the in-memory state stays authoritative for the process.
func (c *Config) persist(key, value string) {
	if err := c.deps.Store.Set(c.sessionID, key, value); err != nil {
		logging.Warn("Session", "Failed to persist %s for session %s: %v", key, c.sessionID, err)
	}
}

// AppPassword returns the stored handle and app password for the
// protocol session handshake. Errors when either is missing.
func (c *Config) AppPassword() (handle, password string, err error) {
	handle, _ = c.deps.Store.Get(c.sessionID, secrets.KeyHandle)
	password, ok := c.deps.Store.Get(c.sessionID, secrets.KeyAppPassword)
	if handle == "" || !ok {
		return "", "", errors.New("no app password stored")
	}
	return handle, password, nil
}

// RefreshSession exchanges the stored refresh token for fresh tokens.
//
// App-password accounts are a no-op: their refresh is protocol-native and
// handled by the outer client. For OAuth accounts the new bundle keeps
// the prior handle, DID, PDS, and DPoP key -- only the access token,
// refresh token, and expiry change.
func (c *Config) RefreshSession(ctx context.Context) error {
	var creds Credentials
	switch c.AuthType() {
	case AuthTypeAppPassword:
		return nil
	case AuthTypeUnknown:
		return ErrNoRefreshToken
	case AuthTypeOAuth:
		bundle := c.LoadTokens()
		if bundle == nil || bundle.RefreshToken == "" {
			return ErrNoRefreshToken
		}
		creds = OAuthCredentials{Bundle: bundle}
	}

	prior := creds.(OAuthCredentials).Bundle
	resp, err := c.deps.Broker.Refresh(ctx, prior.RefreshToken, prior.DID)
	if err != nil {
		if errors.Is(err, broker.ErrInvalidGrant) {
			logging.Warn("Session", "Refresh token for session %s is dead", c.sessionID)
			return ErrInvalidTokens
		}
		return &RefreshError{Err: err}
	}

	next := &atoauth.TokenBundle{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Handle:       prior.Handle,
		DID:          prior.DID,
		PDSURL:       prior.PDSURL,
		DPoPKey:      prior.DPoPKey,
		ExpiresAt:    refreshExpiry(resp, time.Now()),
	}
	c.AuthenticateWithOAuth(next)

	logging.Debug("Session", "Refreshed tokens for session %s, expires %s",
		c.sessionID, next.ExpiresAt.Format(time.RFC3339))
	return nil
}

// NeedsTokenRefresh is the authoritative single-account expiry check:
// false for app-password (and unknown) accounts, true for an OAuth
// account with no stored tokens or less than five minutes of lifetime
// left.
func (c *Config) NeedsTokenRefresh() bool {
	switch c.AuthType() {
	case AuthTypeOAuth:
		bundle := c.LoadTokens()
		if bundle == nil {
			return true
		}
		return bundle.ExpiresWithin(refreshWindow)
	default:
		return false
	}
}

// LoadTokens reads the OAuth token bundle back from the secret store.
// Returns nil when no tokens are stored. The expiry field tolerates both
// RFC 3339 and the legacy raw epoch-seconds encoding.
func (c *Config) LoadTokens() *atoauth.TokenBundle {
	store := c.deps.Store

	accessToken, _ := store.Get(c.sessionID, secrets.KeyAccessToken)
	refreshToken, _ := store.Get(c.sessionID, secrets.KeyRefreshToken)
	if accessToken == "" && refreshToken == "" {
		return nil
	}

	bundle := &atoauth.TokenBundle{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	bundle.Handle, _ = store.Get(c.sessionID, secrets.KeyHandle)
	bundle.DID, _ = store.Get(c.sessionID, secrets.KeyDID)
	bundle.PDSURL, _ = store.Get(c.sessionID, secrets.KeyPDS)

	if raw, ok := store.Get(c.sessionID, secrets.KeyExpiresAt); ok {
		bundle.ExpiresAt = parseExpiry(raw)
	}
	if raw, ok := store.Get(c.sessionID, secrets.KeyDPoPKey); ok {
		bundle.DPoPKey = parseJWK(raw)
	}
	return bundle
}

// DeleteSession purges every namespaced secret for this account and
// removes the identity registration. Idempotent.
func (c *Config) DeleteSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.deps.Store.PurgeNamespace(c.sessionID); err != nil {
		logging.Warn("Session", "Failed to purge secrets for session %s: %v", c.sessionID, err)
	}
	c.deps.DPoP.Forget(c.sessionID)
	c.deps.Directory.Deregister(c.sessionID)
	c.authType = AuthTypeUnknown
}

// refreshExpiry picks the expiry out of a refresh response, falling back
// to the default lifetime when the broker states none.
func refreshExpiry(resp *broker.RefreshResponse, now time.Time) time.Time {
	if resp.ExpiresAt != "" {
		if t := parseExpiry(resp.ExpiresAt); !t.IsZero() {
			return t
		}
	}
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return now.Add(atoauth.DefaultTokenLifetime)
}

// parseJWK decodes a stored private key. Returns nil on malformed data;
// the DPoP manager surfaces a proper error when signing is attempted.
func parseJWK(raw string) *atoauth.JWK {
	var jwk atoauth.JWK
	if err := json.Unmarshal([]byte(raw), &jwk); err != nil {
		return nil
	}
	return &jwk
}

// parseExpiry accepts RFC 3339 or legacy epoch-seconds strings. Returns
// the zero time for anything else.
func parseExpiry(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return time.Time{}
}
