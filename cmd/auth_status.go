package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"limit/internal/session"
)

// newAuthStatusCmd creates the command that reports stored sessions.
func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status for all accounts",
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
			for _, account := range list {
				marker := " "
				if account.DID == current.DID {
					marker = "*"
				}

				cfg := a.Client.Session(account.SessionID)
				state := describeSessionState(cfg, account.NeedsReauth)
				fmt.Printf("%s %-30s %-12s %s\n", marker, account.Handle, account.AuthType, state)
			}
			return nil
		},
	}
}

func describeSessionState(cfg *session.Config, needsReauth bool) string {
	if needsReauth {
		return "needs re-authentication"
	}
	switch cfg.AuthType() {
	case session.AuthTypeAppPassword:
		return "ok (app password stored)"
	case session.AuthTypeOAuth:
		bundle := cfg.LoadTokens()
		if bundle == nil {
			return "no tokens stored"
		}
		if bundle.ExpiresAt.IsZero() {
			return "ok (expiry unknown)"
		}
		remaining := time.Until(bundle.ExpiresAt)
		if remaining <= 0 {
			return "token expired (will refresh on next use)"
		}
		return fmt.Sprintf("ok (token valid %s)", remaining.Round(time.Minute))
	default:
		return "no credentials stored"
	}
}
