package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"limit/internal/accounts"
	"limit/internal/app"
	"limit/internal/cli"
	"limit/internal/oauthflow"
	"limit/internal/session"
)

// newAuthLoginCmd creates the login command. The default path is the
// browser OAuth flow; --app-password switches to the legacy handshake.
func newAuthLoginCmd() *cobra.Command {
	var handleFlag string
	var appPasswordFlag bool

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Add a Bluesky account",
		Long: `Log a Bluesky account in and store its credentials.

The default flow opens your browser for OAuth; tokens and the DPoP key
are stored per account and refreshed automatically. With --app-password
the account is stored with an app password instead (create one in the
Bluesky app under Settings > App Passwords).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapApp()
			if err != nil {
				return err
			}
			if appPasswordFlag {
				return runAppPasswordLogin(cmd.Context(), a, handleFlag)
			}
			return runOAuthLogin(cmd.Context(), a, handleFlag)
		},
	}

	loginCmd.Flags().StringVar(&handleFlag, "handle", "", "Account handle (e.g. alice.bsky.social)")
	loginCmd.Flags().BoolVar(&appPasswordFlag, "app-password", false, "Log in with an app password instead of OAuth")
	return loginCmd
}

func runOAuthLogin(ctx context.Context, a *app.App, handle string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	callbacks := oauthflow.CallbackConfig{
		Scheme:            a.Config.Callback.Scheme,
		UniversalLinkHost: a.Config.Callback.UniversalLinkHost,
	}
	flow := oauthflow.NewFlow(a.Broker, callbacks)

	server := oauthflow.NewCallbackServer(a.Config.Callback.Port, callbacks, flow.HandleCallbackURL)
	if _, err := server.Start(ctx); err != nil {
		return &cli.AuthFailedError{Reason: "callbackServer", Err: err}
	}
	defer server.Stop()

	authURL, err := flow.Start(ctx, handle)
	if err != nil {
		return &cli.AuthFailedError{Reason: "backendError", Err: err}
	}

	fmt.Println("Opening your browser to authorize...")
	if err := oauthflow.OpenBrowser(authURL); err != nil {
		fmt.Printf("Could not open a browser. Visit this URL manually:\n\n  %s\n\n", authURL)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for authorization in the browser (Ctrl-C to cancel)..."
	s.Start()
	bundle, err := flow.Wait(ctx)
	s.Stop()
	if err != nil {
		return &cli.AuthFailedError{Reason: flow.State().String(), Err: err}
	}

	sessionID := accounts.NewSessionID()
	cfg := session.NewFromOAuth(a.SessionDeps(), sessionID, bundle)
	a.Client.AdoptSession(cfg)

	if err := a.Registry.Upsert(accounts.Account{
		SessionID:      sessionID,
		DID:            bundle.DID,
		Handle:         bundle.Handle,
		AuthType:       session.AuthTypeOAuth,
		PDSURL:         bundle.PDSURL,
		TokenExpiresAt: bundle.ExpiresAt,
	}); err != nil {
		return err
	}
	if err := a.Registry.SetCurrent(bundle.DID); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (%s)\n", bundle.Handle, bundle.DID)
	return nil
}

func runAppPasswordLogin(ctx context.Context, a *app.App, handle string) error {
	reader := bufio.NewReader(os.Stdin)

	if handle == "" {
		fmt.Print("Handle: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		handle = strings.TrimSpace(line)
	}
	if handle == "" {
		return fmt.Errorf("a handle is required")
	}

	fmt.Print("App password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimSpace(string(passwordBytes))
	if password == "" {
		return fmt.Errorf("an app password is required")
	}

	account, err := a.Client.LoginWithAppPassword(ctx, "", handle, password)
	if err != nil {
		return &cli.AuthFailedError{Reason: "invalidCredentials", Err: err}
	}
	if err := a.Registry.SetCurrent(account.DID); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (%s)\n", account.Handle, account.DID)
	return nil
}
