// Package refresh schedules and deduplicates token refreshes across all
// registered accounts. One coordinator serves the whole process;
// concurrent refresh requests for the same account converge on a single
// network call.
package refresh

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"limit/internal/accounts"
	"limit/internal/session"
	"limit/pkg/logging"
)

// DefaultInterval is how often the background loop scans for expiring
// tokens.
const DefaultInterval = 30 * time.Minute

// DefaultWindow is the proactive buffer: tokens expiring within this
// much are refreshed by the background scan. It is deliberately wider
// than the session's own 5-minute staleness check so the scan runs well
// before any request would block on a synchronous refresh.
const DefaultWindow = 30 * time.Minute

// SessionSource resolves a session ID to its configuration. The client
// pool implements this.
type SessionSource interface {
	Session(sessionID string) *session.Config
}

// Config configures a Coordinator.
type Config struct {
	Sessions SessionSource
	Registry *accounts.Registry

	// Interval between background scans. Defaults to DefaultInterval.
	Interval time.Duration

	// Window is the proactive expiry buffer. Defaults to DefaultWindow.
	Window time.Duration
}

// Coordinator owns all refresh traffic. Every caller that wants a
// refresh, whether the background loop, an account switch, or a retry
// after an expired-token error, routes through Refresh, so the
// singleflight group is the single mutual-exclusion point.
type Coordinator struct {
	sessions SessionSource
	registry *accounts.Registry
	interval time.Duration
	window   time.Duration

	group singleflight.Group
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Coordinator{
		sessions: cfg.Sessions,
		registry: cfg.Registry,
		interval: cfg.Interval,
		window:   cfg.Window,
	}
}

// Refresh refreshes one account's tokens, deduplicated per session ID:
// callers racing on the same account share one underlying network call
// and receive its result. Terminal failures flag the account as needing
// re-authentication in the registry; transient failures leave it
// eligible for the next scan.
func (c *Coordinator) Refresh(ctx context.Context, sessionID string) error {
	_, err, shared := c.group.Do(sessionID, func() (interface{}, error) {
		return nil, c.doRefresh(ctx, sessionID)
	})
	if shared {
		logging.Debug("Refresh", "Deduplicated concurrent refresh for session %s", sessionID)
	}
	return err
}

func (c *Coordinator) doRefresh(ctx context.Context, sessionID string) error {
	cfg := c.sessions.Session(sessionID)
	err := cfg.RefreshSession(ctx)

	account, registered := c.lookupBySession(sessionID)

	if err != nil {
		if session.IsTerminal(err) {
			logging.Warn("Refresh", "Session %s needs re-authentication: %v", sessionID, err)
			if registered {
				if markErr := c.registry.MarkNeedsReauth(account.DID); markErr != nil {
					logging.Warn("Refresh", "Failed to flag account %s: %v", account.DID, markErr)
				}
			}
		} else {
			logging.Debug("Refresh", "Transient refresh failure for session %s: %v", sessionID, err)
		}
		return err
	}

	if registered {
		if bundle := cfg.LoadTokens(); bundle != nil && !bundle.ExpiresAt.IsZero() {
			if updErr := c.registry.UpdateExpiry(account.DID, bundle.ExpiresAt); updErr != nil {
				logging.Warn("Refresh", "Failed to record new expiry for %s: %v", account.DID, updErr)
			}
		}
	}
	return nil
}

// RefreshCurrent refreshes the active account. Used on foreground
// resume and before an account switch completes.
func (c *Coordinator) RefreshCurrent(ctx context.Context) error {
	account, ok := c.registry.Current()
	if !ok {
		return errors.New("no current account")
	}
	return c.Refresh(ctx, account.SessionID)
}

// Run executes the background refresh loop until the context is
// cancelled. One scan runs immediately, then one per interval.
func (c *Coordinator) Run(ctx context.Context) {
	logging.Info("Refresh", "Background refresh loop started (interval %s, window %s)", c.interval, c.window)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Info("Refresh", "Background refresh loop stopped")
			return
		case <-ticker.C:
			c.Scan(ctx)
		}
	}
}

// Scan walks the registry once and refreshes every OAuth account whose
// token expires within the window. Accounts flagged needsReauth are
// skipped: their refresh token is known dead and retrying cannot help.
func (c *Coordinator) Scan(ctx context.Context) {
	for _, account := range c.registry.List() {
		if ctx.Err() != nil {
			return
		}
		if account.AuthType != session.AuthTypeOAuth || account.NeedsReauth {
			continue
		}

		cfg := c.sessions.Session(account.SessionID)
		bundle := cfg.LoadTokens()
		if bundle != nil && !bundle.ExpiresWithin(c.window) {
			continue
		}

		if err := c.Refresh(ctx, account.SessionID); err != nil {
			logging.Warn("Refresh", "Scan refresh for %s failed: %v", account.Handle, err)
			continue
		}
		logging.Debug("Refresh", "Scan refreshed tokens for %s", account.Handle)
	}
}

func (c *Coordinator) lookupBySession(sessionID string) (accounts.Account, bool) {
	for _, account := range c.registry.List() {
		if account.SessionID == sessionID {
			return account, true
		}
	}
	return accounts.Account{}, false
}
