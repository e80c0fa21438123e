package oauthflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"limit/internal/broker"
	"limit/pkg/atoauth"
	"limit/pkg/logging"
)

// State is the lifecycle position of one login attempt. The flow is
// linear with a single branch point (server-reported error vs. code
// present), so an explicit enum plus one driving function is enough.
type State int

const (
	StateIdle State = iota
	StateStartingBackend
	StateAwaitingBrowser
	StateExchangingCode
	StateSucceeded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStartingBackend:
		return "startingBackendFlow"
	case StateAwaitingBrowser:
		return "awaitingUserInBrowser"
	case StateExchangingCode:
		return "exchangingCode"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason classifies why a flow failed.
type Reason string

const (
	ReasonAuthenticationFailed Reason = "authenticationFailed"
	ReasonNoAuthorizationCode  Reason = "noAuthorizationCode"
	ReasonInvalidURL           Reason = "invalidURL"
	ReasonBackendError         Reason = "backendError"
	ReasonUserCancelled        Reason = "userCancelled"
)

// FlowError is the terminal failure of one login attempt. None of these
// are retried automatically; the initiating caller decides what to do.
type FlowError struct {
	Reason      Reason
	Description string
	Err         error
}

func (e *FlowError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth flow failed (%s): %s", e.Reason, e.Description)
	}
	return fmt.Sprintf("oauth flow failed (%s)", e.Reason)
}

func (e *FlowError) Unwrap() error { return e.Err }

// callbackOutcome is what resolves the pending browser wait: either an
// intercepted redirect or a user cancellation, never both.
type callbackOutcome struct {
	result    *CallbackResult
	cancelled bool
}

// Flow drives one OAuth authorization-code login from start to terminal
// state. A Flow is single-use: terminal states are final, and a new login
// attempt creates a new Flow.
//
// The browser redirect is bridged through a pending-outcome slot that can
// be resolved exactly once -- by HandleCallbackURL or by Cancel, whichever
// lands first.
type Flow struct {
	broker    *broker.Client
	callbacks CallbackConfig

	mu       sync.Mutex
	state    State
	failure  *FlowError
	resolved bool
	outcome  chan callbackOutcome
}

// NewFlow creates a flow in the idle state.
func NewFlow(b *broker.Client, callbacks CallbackConfig) *Flow {
	return &Flow{
		broker:    b,
		callbacks: callbacks,
		state:     StateIdle,
		outcome:   make(chan callbackOutcome, 1),
	}
}

// State returns the flow's current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Failure returns the terminal failure, or nil if the flow has not failed.
func (f *Flow) Failure() *FlowError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// Start asks the broker to begin an authorization flow and returns the
// authorization URL to present in a browser. On success the flow is
// awaiting the intercepted redirect.
func (f *Flow) Start(ctx context.Context, handle string) (string, error) {
	f.mu.Lock()
	if f.state != StateIdle {
		state := f.state
		f.mu.Unlock()
		return "", fmt.Errorf("cannot start flow in state %s", state)
	}
	f.state = StateStartingBackend
	f.mu.Unlock()

	resp, err := f.broker.StartFlow(ctx, handle)
	if err != nil {
		return "", f.fail(&FlowError{Reason: ReasonBackendError, Description: err.Error(), Err: err})
	}

	f.mu.Lock()
	// Cancel may have landed while the broker call was in flight.
	if f.state != StateStartingBackend {
		failure := f.failure
		f.mu.Unlock()
		return "", failure
	}
	f.state = StateAwaitingBrowser
	f.mu.Unlock()

	logging.Debug("OAuthFlow", "Flow started, awaiting browser callback")
	return resp.AuthURL, nil
}

// HandleCallbackURL feeds an intercepted navigation to the flow. URLs
// that don't match either callback shape are ignored (the browser lets
// them proceed normally) and false is returned.
func (f *Flow) HandleCallbackURL(rawURL string) bool {
	result, ok := ParseCallbackURL(f.callbacks, rawURL)
	if !ok {
		return false
	}
	return f.resolve(callbackOutcome{result: result})
}

// Cancel aborts a flow that is starting or awaiting the browser. The
// pending wait observes the cancellation exactly once; no credentials are
// written. Cancelling a terminal flow is a no-op.
func (f *Flow) Cancel() {
	f.mu.Lock()
	if f.state != StateStartingBackend && f.state != StateAwaitingBrowser {
		f.mu.Unlock()
		return
	}
	f.state = StateFailed
	f.failure = &FlowError{Reason: ReasonUserCancelled}
	f.mu.Unlock()

	f.resolve(callbackOutcome{cancelled: true})
}

// resolve delivers the callback outcome if nothing has resolved the slot
// yet. Returns whether this call won.
func (f *Flow) resolve(o callbackOutcome) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.outcome <- o
	return true
}

// Wait blocks until the intercepted redirect arrives, then performs the
// code exchange and returns the resulting token bundle. It is the second
// half of the driving function: Start, present the URL, Wait.
func (f *Flow) Wait(ctx context.Context) (*atoauth.TokenBundle, error) {
	var o callbackOutcome
	select {
	case o = <-f.outcome:
	case <-ctx.Done():
		f.Cancel()
		return nil, f.fail(&FlowError{Reason: ReasonUserCancelled, Err: ctx.Err()})
	}

	if o.cancelled {
		f.mu.Lock()
		failure := f.failure
		f.mu.Unlock()
		return nil, failure
	}

	if o.result.IsError() {
		return nil, f.fail(&FlowError{
			Reason:      ReasonAuthenticationFailed,
			Description: o.result.ErrorText(),
		})
	}
	if o.result.Code == "" {
		return nil, f.fail(&FlowError{Reason: ReasonNoAuthorizationCode})
	}

	f.setState(StateExchangingCode)

	resp, err := f.broker.ExchangeCode(ctx, o.result.Code)
	if err != nil {
		return nil, f.fail(&FlowError{Reason: ReasonBackendError, Description: err.Error(), Err: err})
	}

	bundle := BuildBundle(resp, time.Now())
	f.setState(StateSucceeded)
	logging.Info("OAuthFlow", "Login succeeded for %s", bundle.Handle)
	return bundle, nil
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// fail records a terminal failure and returns it. If the flow already
// failed (e.g. via Cancel), the earlier failure wins.
func (f *Flow) fail(fe *FlowError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateFailed {
		return f.failure
	}
	f.state = StateFailed
	f.failure = fe
	return fe
}

// BuildBundle converts a broker token response into a TokenBundle.
//
// Two normalizations happen here: a missing expiry defaults to one hour
// from the exchange, and the access token's own aud claim -- when it
// names a did:web PDS -- overrides the broker's stated pds field. The
// token's embedded claim is authoritative because it is what the PDS
// will actually accept the token for.
func BuildBundle(resp *broker.TokenResponse, now time.Time) *atoauth.TokenBundle {
	lifetime := atoauth.DefaultTokenLifetime
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}

	pds := resp.PDS
	if fromToken := atoauth.PDSFromAccessToken(resp.AccessToken); fromToken != "" {
		pds = fromToken
	}

	bundle := &atoauth.TokenBundle{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Handle:       resp.Handle,
		DID:          resp.DID,
		PDSURL:       pds,
		ExpiresAt:    now.Add(lifetime),
	}
	if resp.DPoPKey != nil {
		key := resp.DPoPKey.JWK
		bundle.DPoPKey = &key
	}
	return bundle
}
