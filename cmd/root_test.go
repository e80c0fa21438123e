package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limit/internal/cli"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"auth required", &cli.AuthRequiredError{}, ExitCodeAuthRequired},
		{"auth failed", &cli.AuthFailedError{Reason: "userCancelled"}, ExitCodeAuthFailed},
		{"wrapped auth required", errors.Join(errors.New("context"), &cli.AuthRequiredError{}), ExitCodeAuthRequired},
		{"generic error", errors.New("boom"), ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, getExitCode(tt.err))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "limit version 1.2.3\n", out.String())
}
