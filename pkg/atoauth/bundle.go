package atoauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is assumed when the broker's token response omits
// an explicit expiry.
const DefaultTokenLifetime = 3600 * time.Second

// TokenBundle is the complete set of credentials and identity produced by
// an OAuth code exchange or refresh. It is what the session layer persists
// and what the API client consumes.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	Handle       string
	DID          string
	PDSURL       string
	DPoPKey      *JWK
	ExpiresAt    time.Time
}

// OAuth2Token converts the bundle to the standard oauth2 token type for
// interop with generic HTTP tooling.
func (b *TokenBundle) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		TokenType:    "DPoP",
		Expiry:       b.ExpiresAt,
	}
}

// ExpiresWithin reports whether the bundle's access token expires within
// the given duration. A zero ExpiresAt is treated as already expired so
// that incomplete bundles always look refresh-worthy.
func (b *TokenBundle) ExpiresWithin(d time.Duration) bool {
	if b.ExpiresAt.IsZero() {
		return true
	}
	return time.Until(b.ExpiresAt) < d
}
