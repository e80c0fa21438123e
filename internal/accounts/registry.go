// Package accounts maintains the non-secret account registry: the
// ordered list of known accounts, their display metadata, and the
// pointer to the currently active one. Tokens and passwords never live
// here; they stay in the secret store under the account's session ID.
package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"limit/internal/session"
	"limit/pkg/logging"
)

// DefaultRegistryPath is the registry file location relative to the
// user's home directory.
const DefaultRegistryPath = ".config/limit/accounts.json"

// Account is one registry record. All fields are non-secret display and
// scheduling metadata.
type Account struct {
	SessionID      string           `json:"sessionId"`
	DID            string           `json:"did"`
	Handle         string           `json:"handle"`
	AuthType       session.AuthType `json:"-"`
	PDSURL         string           `json:"pdsUrl,omitempty"`
	TokenExpiresAt time.Time        `json:"tokenExpiresAt"`
	NeedsReauth    bool             `json:"needsReauth,omitempty"`
	LastUsedAt     time.Time        `json:"lastUsedAt"`
	AddedAt        time.Time        `json:"addedAt"`
}

// MarshalJSON stores the auth type under its string name.
func (a Account) MarshalJSON() ([]byte, error) {
	type plain Account
	return json.Marshal(struct {
		plain
		AuthType string `json:"authType"`
	}{plain(a), a.AuthType.String()})
}

// UnmarshalJSON parses the auth type back; unknown names degrade to
// AuthTypeUnknown rather than failing the whole registry load.
func (a *Account) UnmarshalJSON(data []byte) error {
	type plain Account
	var aux struct {
		plain
		AuthType string `json:"authType"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Account(aux.plain)
	a.AuthType = session.ParseAuthType(aux.AuthType)
	return nil
}

// registryFile is the on-disk document shape.
type registryFile struct {
	Accounts   []Account `json:"accounts"`
	CurrentDID string    `json:"currentDid,omitempty"`
}

// Registry is the mutable, persistent account list. Accounts keep their
// insertion order; the current account is tracked by DID. All methods
// are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	path       string
	accounts   []Account
	currentDID string
}

// NewRegistry creates a registry backed by the given file, loading any
// existing contents. A missing file yields an empty registry.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewSessionID mints a fresh session identifier. Session IDs are never
// reused: removing an account and adding it back yields a new ID, so
// stale secrets from the old namespace can never leak into the new one.
func NewSessionID() string {
	return uuid.NewString()
}

// Path returns the backing file location.
func (r *Registry) Path() string {
	return r.path
}

// List returns a copy of the accounts in insertion order.
func (r *Registry) List() []Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Lookup returns the account with the given DID.
func (r *Registry) Lookup(did string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if a.DID == did {
			return a, true
		}
	}
	return Account{}, false
}

// Current returns the currently active account, if one is set.
func (r *Registry) Current() (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.currentDID == "" {
		return Account{}, false
	}
	for _, a := range r.accounts {
		if a.DID == r.currentDID {
			return a, true
		}
	}
	return Account{}, false
}

// Upsert adds an account or replaces the record with the same DID,
// preserving list order and the original AddedAt on replace.
func (r *Registry) Upsert(account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account.AddedAt.IsZero() {
		account.AddedAt = time.Now()
	}
	for i, a := range r.accounts {
		if a.DID == account.DID {
			if !a.AddedAt.IsZero() {
				account.AddedAt = a.AddedAt
			}
			r.accounts[i] = account
			return r.save()
		}
	}
	r.accounts = append(r.accounts, account)
	return r.save()
}

// Remove deletes the account with the given DID. When it was current,
// the current pointer moves to the first remaining account (or clears).
func (r *Registry) Remove(did string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, a := range r.accounts {
		if a.DID != did {
			continue
		}
		r.accounts = append(r.accounts[:i], r.accounts[i+1:]...)
		if r.currentDID == did {
			r.currentDID = ""
			if len(r.accounts) > 0 {
				r.currentDID = r.accounts[0].DID
			}
		}
		return r.save()
	}
	return nil
}

// SetCurrent points the registry at the account with the given DID.
func (r *Registry) SetCurrent(did string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, a := range r.accounts {
		if a.DID == did {
			r.currentDID = did
			r.accounts[i].LastUsedAt = time.Now()
			return r.save()
		}
	}
	return fmt.Errorf("no account with DID %s", did)
}

// MarkNeedsReauth flags an account as requiring a fresh login. The
// refresh coordinator skips flagged accounts until the user logs in
// again.
func (r *Registry) MarkNeedsReauth(did string) error {
	return r.update(did, func(a *Account) {
		a.NeedsReauth = true
	})
}

// ClearNeedsReauth removes the re-login flag, typically after a
// successful authentication.
func (r *Registry) ClearNeedsReauth(did string) error {
	return r.update(did, func(a *Account) {
		a.NeedsReauth = false
	})
}

// UpdateExpiry records the new token expiry after a refresh.
func (r *Registry) UpdateExpiry(did string, expiresAt time.Time) error {
	return r.update(did, func(a *Account) {
		a.TokenExpiresAt = expiresAt
	})
}

func (r *Registry) update(did string, fn func(*Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.accounts {
		if r.accounts[i].DID == did {
			fn(&r.accounts[i])
			return r.save()
		}
	}
	return fmt.Errorf("no account with DID %s", did)
}

// Reload re-reads the backing file, replacing in-memory state. Used by
// the file watcher when another process rewrites the registry.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// load reads the backing file. Caller holds the lock (or the registry
// is not yet shared).
func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.accounts = nil
			r.currentDID = ""
			return nil
		}
		return fmt.Errorf("failed to read account registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse account registry %s: %w", r.path, err)
	}
	r.accounts = file.Accounts
	r.currentDID = file.CurrentDID
	return nil
}

// save writes the registry atomically (temp file + rename). Caller
// holds the lock.
func (r *Registry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(registryFile{
		Accounts:   r.accounts,
		CurrentDID: r.currentDID,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode account registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write account registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace account registry: %w", err)
	}

	logging.Debug("Accounts", "Saved registry with %d accounts to %s", len(r.accounts), r.path)
	return nil
}
