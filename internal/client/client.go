// Package client owns the per-process view of all authenticated
// accounts: a pool of session configurations, the single active XRPC
// client, and the switch/retry orchestration on top of them.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"limit/internal/accounts"
	"limit/internal/refresh"
	"limit/internal/session"
	"limit/pkg/logging"
)

// MultiAccountClient manages one XRPC client per process, rebuilt on
// every account switch. Session configurations are pooled by session ID
// so the coordinator and the client always share the same instance.
type MultiAccountClient struct {
	deps     session.Deps
	registry *accounts.Registry

	mu          sync.Mutex
	coordinator *refresh.Coordinator
	pool        map[string]*session.Config
	appSessions map[string]*appSession

	active          *XRPCClient
	activeSessionID string
}

// NewMultiAccountClient creates the client. The refresh coordinator is
// attached afterwards via SetCoordinator because it needs this client
// as its session source.
func NewMultiAccountClient(deps session.Deps, registry *accounts.Registry) *MultiAccountClient {
	return &MultiAccountClient{
		deps:        deps,
		registry:    registry,
		pool:        make(map[string]*session.Config),
		appSessions: make(map[string]*appSession),
	}
}

// SetCoordinator wires the refresh coordinator in.
func (m *MultiAccountClient) SetCoordinator(c *refresh.Coordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinator = c
}

// Session returns the pooled session configuration for a session ID,
// loading it from the secret store on first use. Implements
// refresh.SessionSource.
func (m *MultiAccountClient) Session(sessionID string) *session.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked(sessionID)
}

func (m *MultiAccountClient) sessionLocked(sessionID string) *session.Config {
	cfg, ok := m.pool[sessionID]
	if !ok {
		cfg = session.Load(m.deps, sessionID)
		m.pool[sessionID] = cfg
	}
	return cfg
}

// AdoptSession places a freshly constructed session configuration into
// the pool, typically right after a login flow completes.
func (m *MultiAccountClient) AdoptSession(cfg *session.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool[cfg.SessionID()] = cfg
}

// SwitchToAccount makes the given account active. For OAuth accounts a
// stale token is refreshed synchronously before the switch completes;
// a dead refresh token fails the switch visibly rather than producing a
// half-working client. App-password accounts get a protocol session
// handshake when none is cached.
func (m *MultiAccountClient) SwitchToAccount(ctx context.Context, account accounts.Account) error {
	cfg := m.Session(account.SessionID)

	switch cfg.AuthType() {
	case session.AuthTypeOAuth:
		if cfg.NeedsTokenRefresh() {
			if err := m.refreshVia(ctx, account.SessionID); err != nil {
				return fmt.Errorf("cannot activate %s: %w", account.Handle, err)
			}
		}
		m.mu.Lock()
		m.active = m.oauthClientLocked(cfg)
		m.activeSessionID = account.SessionID
		m.mu.Unlock()

	case session.AuthTypeAppPassword:
		if err := m.ensureAppSession(ctx, cfg); err != nil {
			return fmt.Errorf("cannot activate %s: %w", account.Handle, err)
		}
		m.mu.Lock()
		m.active = m.appClientLocked(cfg)
		m.activeSessionID = account.SessionID
		m.mu.Unlock()

	default:
		return fmt.Errorf("cannot activate %s: %w", account.Handle, ErrNeedsReauth)
	}

	if err := m.registry.SetCurrent(account.DID); err != nil {
		logging.Warn("Client", "Failed to update current account pointer: %v", err)
	}
	logging.Info("Client", "Switched to account %s (%s)", account.Handle, cfg.AuthType())
	return nil
}

// CurrentClient returns the active XRPC client.
func (m *MultiAccountClient) CurrentClient() (*XRPCClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, ErrNotAuthenticated
	}
	return m.active, nil
}

// PerformAuthenticatedRequest runs op against the active client. On an
// expired-token class failure it refreshes once through the
// coordinator, rebuilds the client, and retries exactly once; the
// second failure is surfaced as-is. It never loops.
func (m *MultiAccountClient) PerformAuthenticatedRequest(ctx context.Context, op func(ctx context.Context, c *XRPCClient) error) error {
	xc, err := m.CurrentClient()
	if err != nil {
		return err
	}

	err = op(ctx, xc)
	if err == nil || !IsTokenExpiredError(err) {
		return err
	}

	m.mu.Lock()
	sessionID := m.activeSessionID
	m.mu.Unlock()

	logging.Debug("Client", "Token rejected for session %s; refreshing and retrying once", sessionID)
	if refreshErr := m.recoverSession(ctx, sessionID); refreshErr != nil {
		return fmt.Errorf("token expired and refresh failed: %w", refreshErr)
	}

	xc, err = m.CurrentClient()
	if err != nil {
		return err
	}
	return op(ctx, xc)
}

// LoginWithAppPassword adds an account from handle and app password:
// it validates the credentials with a createSession handshake (which is
// also how the account's DID is learned), persists them under a fresh
// session ID, and registers the account.
func (m *MultiAccountClient) LoginWithAppPassword(ctx context.Context, pdsURL, handle, password string) (accounts.Account, error) {
	if pdsURL == "" {
		pdsURL = DefaultPDSURL
	}
	sess, err := createAppSession(ctx, pdsURL, handle, password)
	if err != nil {
		return accounts.Account{}, err
	}

	sessionID := accounts.NewSessionID()
	cfg := session.NewFromAppPassword(m.deps, sessionID, sess.Handle, password)

	m.mu.Lock()
	m.pool[sessionID] = cfg
	m.appSessions[sessionID] = sess
	m.mu.Unlock()

	account := accounts.Account{
		SessionID: sessionID,
		DID:       sess.DID,
		Handle:    sess.Handle,
		AuthType:  session.AuthTypeAppPassword,
		PDSURL:    pdsURL,
	}
	if err := m.registry.Upsert(account); err != nil {
		return accounts.Account{}, err
	}
	return account, nil
}

// RemoveAccount logs an account out completely: secrets purged, pooled
// session dropped, registry record removed. The session ID dies with
// the account; adding the same handle back mints a fresh one.
func (m *MultiAccountClient) RemoveAccount(account accounts.Account) error {
	cfg := m.Session(account.SessionID)
	cfg.DeleteSession()

	m.mu.Lock()
	delete(m.pool, account.SessionID)
	delete(m.appSessions, account.SessionID)
	if m.activeSessionID == account.SessionID {
		m.active = nil
		m.activeSessionID = ""
	}
	m.mu.Unlock()

	if err := m.registry.Remove(account.DID); err != nil {
		return fmt.Errorf("failed to remove account record: %w", err)
	}
	logging.Info("Client", "Removed account %s", account.Handle)
	return nil
}

// refreshVia routes a refresh through the coordinator when present so
// it shares the singleflight group, falling back to a direct session
// refresh otherwise.
func (m *MultiAccountClient) refreshVia(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	coordinator := m.coordinator
	m.mu.Unlock()

	if coordinator != nil {
		return coordinator.Refresh(ctx, sessionID)
	}
	return m.Session(sessionID).RefreshSession(ctx)
}

// recoverSession refreshes the credentials behind the active client and
// rebuilds it. OAuth goes through the coordinator; app-password rotates
// the protocol session, falling back to a fresh createSession handshake
// when the rotation itself is rejected.
func (m *MultiAccountClient) recoverSession(ctx context.Context, sessionID string) error {
	cfg := m.Session(sessionID)

	switch cfg.AuthType() {
	case session.AuthTypeOAuth:
		if err := m.refreshVia(ctx, sessionID); err != nil {
			return err
		}
		m.mu.Lock()
		m.active = m.oauthClientLocked(cfg)
		m.mu.Unlock()
		return nil

	case session.AuthTypeAppPassword:
		m.mu.Lock()
		current := m.appSessions[sessionID]
		m.mu.Unlock()

		var next *appSession
		if current != nil {
			rotated, err := refreshAppSession(ctx, m.pdsURLFor(cfg), current)
			if err != nil {
				logging.Debug("Client", "Session rotation failed for %s, re-establishing: %v", sessionID, err)
			}
			next = rotated
		}
		if next != nil {
			m.mu.Lock()
			m.appSessions[sessionID] = next
			m.mu.Unlock()
		} else {
			// Rotation failed or nothing was cached: redo the handshake
			// from the stored password.
			m.mu.Lock()
			delete(m.appSessions, sessionID)
			m.mu.Unlock()
			if err := m.ensureAppSession(ctx, cfg); err != nil {
				return err
			}
		}

		m.mu.Lock()
		m.active = m.appClientLocked(cfg)
		m.mu.Unlock()
		return nil

	default:
		return ErrNeedsReauth
	}
}

// oauthClientLocked builds the DPoP-authorized client. The authorizer
// reads the current access token at request time, so refreshed tokens
// are picked up without racing the pool.
func (m *MultiAccountClient) oauthClientLocked(cfg *session.Config) *XRPCClient {
	sessionID := cfg.SessionID()
	dpopManager := m.deps.DPoP

	return NewXRPCClient(m.pdsURLFor(cfg), func(req *http.Request) error {
		bundle := cfg.LoadTokens()
		if bundle == nil || bundle.AccessToken == "" {
			return ErrNotAuthenticated
		}
		token := bundle.OAuth2Token()
		proof, err := dpopManager.Sign(req.Method, req.URL.String(), token.AccessToken, sessionID)
		if err != nil {
			return fmt.Errorf("failed to sign request: %w", err)
		}
		req.Header.Set("Authorization", token.TokenType+" "+token.AccessToken)
		req.Header.Set("DPoP", proof)
		return nil
	})
}

// appClientLocked builds the Bearer-authorized client over the cached
// protocol session.
func (m *MultiAccountClient) appClientLocked(cfg *session.Config) *XRPCClient {
	sessionID := cfg.SessionID()

	return NewXRPCClient(m.pdsURLFor(cfg), func(req *http.Request) error {
		m.mu.Lock()
		sess := m.appSessions[sessionID]
		m.mu.Unlock()
		if sess == nil || sess.AccessJwt == "" {
			return ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+sess.AccessJwt)
		return nil
	})
}

// ensureAppSession performs the createSession handshake when no
// protocol session is cached for an app-password account.
func (m *MultiAccountClient) ensureAppSession(ctx context.Context, cfg *session.Config) error {
	sessionID := cfg.SessionID()

	m.mu.Lock()
	_, cached := m.appSessions[sessionID]
	m.mu.Unlock()
	if cached {
		return nil
	}

	handle, password, err := cfg.AppPassword()
	if err != nil {
		return err
	}

	sess, err := createAppSession(ctx, m.pdsURLFor(cfg), handle, password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.appSessions[sessionID] = sess
	m.mu.Unlock()

	logging.Debug("Client", "Established app-password session for %s", sess.Handle)
	return nil
}

func (m *MultiAccountClient) pdsURLFor(cfg *session.Config) string {
	if pds := cfg.PDSURL(); pds != "" {
		return pds
	}
	return DefaultPDSURL
}
