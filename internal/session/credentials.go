package session

import (
	"limit/internal/secrets"
	"limit/pkg/atoauth"
)

// AuthType discriminates the two credential shapes an account can hold,
// plus the explicit third state for an account whose namespace holds
// neither (a new account, or one whose secrets failed to persist).
// The unknown state exists so "empty" is never silently misread as
// "app-password".
type AuthType int

const (
	AuthTypeUnknown AuthType = iota
	AuthTypeAppPassword
	AuthTypeOAuth
)

// String returns the wire/storage name of the auth type.
func (t AuthType) String() string {
	switch t {
	case AuthTypeAppPassword:
		return "appPassword"
	case AuthTypeOAuth:
		return "oauth"
	default:
		return "unknown"
	}
}

// ParseAuthType parses a stored auth type name. Unrecognized names map to
// AuthTypeUnknown.
func ParseAuthType(s string) AuthType {
	switch s {
	case "appPassword":
		return AuthTypeAppPassword
	case "oauth":
		return AuthTypeOAuth
	default:
		return AuthTypeUnknown
	}
}

// Credentials is the tagged union over the two credential shapes. Every
// decision point (refresh, needsRefresh, delete) switches exhaustively on
// the concrete type rather than consulting flag fields.
type Credentials interface {
	AuthType() AuthType
}

// OAuthCredentials is the OAuth credential shape: a full token bundle
// with optional DPoP key.
type OAuthCredentials struct {
	Bundle *atoauth.TokenBundle
}

// AuthType implements Credentials.
func (OAuthCredentials) AuthType() AuthType { return AuthTypeOAuth }

// AppPasswordCredentials is the app-password credential shape.
type AppPasswordCredentials struct {
	Handle   string
	Password string
}

// AuthType implements Credentials.
func (AppPasswordCredentials) AuthType() AuthType { return AuthTypeAppPassword }

// classify reconstructs an account's auth type from which secrets are
// present in its namespace: a refresh token implies OAuth, an app
// password implies app-password, neither is explicitly unknown.
func classify(store *secrets.Store, sessionID string) AuthType {
	if _, ok := store.Get(sessionID, secrets.KeyRefreshToken); ok {
		return AuthTypeOAuth
	}
	if _, ok := store.Get(sessionID, secrets.KeyAppPassword); ok {
		return AuthTypeAppPassword
	}
	return AuthTypeUnknown
}
