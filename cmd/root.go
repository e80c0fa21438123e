package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"limit/internal/app"
	"limit/internal/cli"
	"limit/internal/config"
	"limit/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates authentication is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

var logLevelFlag string

// rootCmd represents the base command for the limit application.
var rootCmd = &cobra.Command{
	Use:   "limit",
	Short: "Manage Bluesky accounts and their OAuth sessions",
	Long: `limit keeps multiple Bluesky accounts logged in at once: it runs the
OAuth flow against the auth backend, stores tokens and DPoP keys per
account, refreshes them before they expire, and switches the active
account without re-authentication.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.ParseLevel(logLevelFlag), os.Stderr)
	},
}

// SetVersion sets the version for the root command. Called from main to
// inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "limit version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes for scripting.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

// bootstrapApp loads the configuration and builds the service graph.
// Every subcommand goes through this.
func bootstrapApp() (*app.App, error) {
	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
	if err != nil {
		return nil, err
	}
	return app.Bootstrap(cfg)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
