package cmd

import (
	"github.com/spf13/cobra"
)

// newAuthCmd creates the parent command for authentication operations.
func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Log accounts in and out",
		Long: `Manage authentication for Bluesky accounts.

Use 'limit auth login' to add an account via the browser OAuth flow (or
with an app password), 'limit auth status' to inspect stored sessions,
and 'limit auth logout' to remove the active account.`,
	}

	authCmd.AddCommand(newAuthLoginCmd())
	authCmd.AddCommand(newAuthStatusCmd())
	authCmd.AddCommand(newAuthLogoutCmd())
	return authCmd
}
