package session

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken means the account has no stored refresh token. This
// is terminal for the account: the user must log in again.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// ErrInvalidTokens means the broker deterministically rejected the
// stored refresh token (invalid_grant). Also terminal: re-login required,
// and the refresh must not be retried against the dead credential.
var ErrInvalidTokens = errors.New("stored tokens are invalid")

// RefreshError wraps a transient refresh failure (network trouble, broker
// downtime). Unlike the terminal errors above, it is eligible for retry
// on a later coordinator tick.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// IsTerminal reports whether a refresh error means the account needs the
// user to re-authenticate.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNoRefreshToken) || errors.Is(err, ErrInvalidTokens)
}
