package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"limit/internal/cli"
	limitstrings "limit/pkg/strings"
)

// newAccountsCmd creates the parent command for account management.
func newAccountsCmd() *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "List and switch between accounts",
	}

	accountsCmd.AddCommand(newAccountsListCmd())
	accountsCmd.AddCommand(newAccountsSwitchCmd())
	accountsCmd.AddCommand(newAccountsRemoveCmd())
	return accountsCmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all known accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapApp()
			if err != nil {
				return err
			}

			list := a.Registry.List()
			if len(list) == 0 {
				fmt.Println("No accounts. Run 'limit auth login' to add one.")
				return nil
			}
			current, _ := a.Registry.Current()

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"", "Handle", "DID", "Auth", "Token Expires", "Status"})

			for _, account := range list {
				marker := ""
				if account.DID == current.DID {
					marker = "*"
				}
				expires := "-"
				if !account.TokenExpiresAt.IsZero() {
					expires = account.TokenExpiresAt.Local().Format(time.RFC3339)
				}
				status := "ok"
				if account.NeedsReauth {
					status = "needs re-auth"
				}
				did := limitstrings.Truncate(account.DID, limitstrings.DefaultDIDMaxLen)
				t.AppendRow(table.Row{marker, account.Handle, did, account.AuthType, expires, status})
			}
			t.Render()
			return nil
		},
	}
}

func newAccountsSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <handle>",
		Short: "Make another account the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapApp()
			if err != nil {
				return err
			}

			handle := args[0]
			for _, account := range a.Registry.List() {
				if account.Handle != handle {
					continue
				}
				if account.NeedsReauth {
					return &cli.AuthRequiredError{Handle: account.Handle}
				}
				if err := a.Client.SwitchToAccount(cmd.Context(), account); err != nil {
					return err
				}
				fmt.Printf("Switched to %s\n", account.Handle)
				return nil
			}
			return fmt.Errorf("no account with handle %s", handle)
		},
	}
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <handle>",
		Short: "Remove an account and purge its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapApp()
			if err != nil {
				return err
			}

			handle := args[0]
			for _, account := range a.Registry.List() {
				if account.Handle != handle {
					continue
				}
				if err := a.Client.RemoveAccount(account); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", account.Handle)
				return nil
			}
			return fmt.Errorf("no account with handle %s", handle)
		},
	}
}
