package atoauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// didWebPrefix is the DID method prefix a PDS uses to identify itself in
// the aud claim of access tokens it accepts.
const didWebPrefix = "did:web:"

// DIDWebToURL converts a did:web identifier to its https:// URL form.
// Returns "" if the input is not a did:web DID.
func DIDWebToURL(did string) string {
	if !strings.HasPrefix(did, didWebPrefix) {
		return ""
	}
	host := strings.TrimPrefix(did, didWebPrefix)
	if host == "" {
		return ""
	}
	// did:web encodes path separators as colons; tokens in the wild only
	// ever carry bare hosts, but handle the encoded form anyway.
	host = strings.ReplaceAll(host, ":", "/")
	return "https://" + host
}

// PDSFromAccessToken extracts the PDS URL an access token is bound to by
// decoding its aud claim. The token signature is NOT verified; this is a
// routing hint, not an authorization decision.
//
// Returns "" when the token is unparseable or carries no did:web audience.
func PDSFromAccessToken(accessToken string) string {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return ""
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return ""
	}
	for _, a := range aud {
		if url := DIDWebToURL(a); url != "" {
			return url
		}
	}
	return ""
}
