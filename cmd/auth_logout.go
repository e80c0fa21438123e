package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"limit/internal/cli"
)

// newAuthLogoutCmd creates the command that removes the active account.
func newAuthLogoutCmd() *cobra.Command {
	var handleFlag string

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget an account's credentials",
		Long: `Remove an account: its tokens, DPoP key, and app password are purged
from local storage. Defaults to the current account; use --handle to
log a specific account out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapApp()
			if err != nil {
				return err
			}

			account, ok := a.Registry.Current()
			if handleFlag != "" {
				ok = false
				for _, candidate := range a.Registry.List() {
					if candidate.Handle == handleFlag {
						account, ok = candidate, true
						break
					}
				}
				if !ok {
					return fmt.Errorf("no account with handle %s", handleFlag)
				}
			}
			if !ok {
				return &cli.AuthRequiredError{}
			}

			if err := a.Client.RemoveAccount(account); err != nil {
				return err
			}
			fmt.Printf("Logged out %s\n", account.Handle)
			return nil
		},
	}

	logoutCmd.Flags().StringVar(&handleFlag, "handle", "", "Handle of the account to log out (default: current)")
	return logoutCmd
}
