package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthRequiredErrorMessage(t *testing.T) {
	assert.Contains(t, (&AuthRequiredError{}).Error(), "limit auth login")
	assert.Contains(t, (&AuthRequiredError{Handle: "alice.bsky.social"}).Error(), "alice.bsky.social")
}

func TestAuthFailedErrorUnwrap(t *testing.T) {
	inner := errors.New("broker unreachable")
	err := &AuthFailedError{Reason: "backendError", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "backendError")
}
