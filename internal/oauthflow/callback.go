package oauthflow

import (
	"net/url"
	"strings"
)

// DefaultScheme is the custom URL scheme registered for app-link
// callbacks, as in limit://auth?code=...
const DefaultScheme = "limit"

// CallbackConfig names the two redirect shapes the flow intercepts.
type CallbackConfig struct {
	// Scheme is the custom URL scheme; the callback host is always
	// "auth". Defaults to DefaultScheme when empty.
	Scheme string

	// UniversalLinkHost is the HTTPS host whose /auth path doubles as a
	// callback (the "universal link" shape). Empty disables that shape.
	UniversalLinkHost string
}

// CallbackResult carries the query parameters of an intercepted redirect.
type CallbackResult struct {
	Code             string
	Error            string
	ErrorDescription string
}

// IsError returns true when the authorization server reported an error.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// ErrorText returns the best human-readable description of the error.
func (r *CallbackResult) ErrorText() string {
	if r.ErrorDescription != "" {
		return r.ErrorDescription
	}
	return r.Error
}

// ParseCallbackURL decides whether a navigation target is one of the two
// equivalent callback shapes and, if so, extracts its parameters:
//
//	<scheme>://auth?code=...            custom app scheme
//	https://<host>/auth?code=...        universal link
//
// Any other URL returns (nil, false): it is not intercepted and normal
// navigation proceeds.
func ParseCallbackURL(cfg CallbackConfig, rawURL string) (*CallbackResult, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}

	isAppScheme := u.Scheme == scheme && u.Host == "auth"
	isUniversal := u.Scheme == "https" &&
		cfg.UniversalLinkHost != "" &&
		u.Host == cfg.UniversalLinkHost &&
		strings.HasPrefix(u.Path, "/auth")

	if !isAppScheme && !isUniversal {
		return nil, false
	}

	q := u.Query()
	return &CallbackResult{
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, true
}
