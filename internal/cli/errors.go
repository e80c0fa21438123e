// Package cli holds the error types commands use to communicate
// semantic exit codes to the root command.
package cli

import "fmt"

// AuthRequiredError means the command needs a logged-in account and
// none is available (or the stored credentials are dead).
type AuthRequiredError struct {
	Handle string
}

func (e *AuthRequiredError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("account %s requires login: run 'limit auth login --handle %s'", e.Handle, e.Handle)
	}
	return "authentication required: run 'limit auth login'"
}

// AuthFailedError means a login flow was attempted and failed.
type AuthFailedError struct {
	Reason string
	Err    error
}

func (e *AuthFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthFailedError) Unwrap() error { return e.Err }
