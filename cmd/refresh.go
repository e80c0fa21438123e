package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"limit/pkg/logging"
)

// newRefreshCmd creates the token refresh command. Without flags it
// runs one refresh pass; with --watch it stays up and refreshes
// proactively, reloading the registry when another process changes it.
func newRefreshCmd() *cobra.Command {
	var watchFlag bool

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh OAuth tokens before they expire",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapApp()
			if err != nil {
				return err
			}

			if !watchFlag {
				a.Coordinator.Scan(cmd.Context())
				fmt.Println("Refresh pass complete.")
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Watcher.Start(); err != nil {
				logging.Warn("Refresh", "Registry watcher unavailable: %v", err)
			} else {
				defer a.Watcher.Stop()
			}

			a.Coordinator.Run(ctx)
			return nil
		},
	}

	refreshCmd.Flags().BoolVar(&watchFlag, "watch", false, "Keep running and refresh tokens in the background")
	return refreshCmd
}
