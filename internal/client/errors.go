package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotAuthenticated means no account has been activated yet.
var ErrNotAuthenticated = errors.New("no active account; log in first")

// ErrNeedsReauth means the account's stored credentials are dead and the
// user must log in again before it can be used.
var ErrNeedsReauth = errors.New("account requires re-authentication")

// RequestError is a non-2xx XRPC response, carrying the protocol error
// code (e.g. ExpiredToken, InvalidRequest) and human message.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// IsTokenExpiredError checks if an error indicates an expired or
// rejected access token, so that one automatic refresh-and-retry can be
// triggered. Detection is by classification over the error text and the
// XRPC error code, since expiry surfaces through several transports.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code {
		case "ExpiredToken", "InvalidToken":
			return true
		}
		if reqErr.StatusCode == 401 {
			return true
		}
	}

	patterns := []string{
		"401",
		"invalid_token",
		"expiredtoken",
		"token expired",
		"token has expired",
		"access token expired",
		"unauthorized",
	}

	errLower := strings.ToLower(err.Error())
	for _, pattern := range patterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}
	return false
}
