package accounts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limit/internal/session"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)
	return r
}

func TestRegistryUpsertAndOrder(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", Handle: "alice.bsky.social", AuthType: session.AuthTypeOAuth}))
	require.NoError(t, r.Upsert(Account{SessionID: "s2", DID: "did:plc:bbb", Handle: "bob.bsky.social", AuthType: session.AuthTypeAppPassword}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "did:plc:aaa", list[0].DID)
	assert.Equal(t, "did:plc:bbb", list[1].DID)
	assert.False(t, list[0].AddedAt.IsZero())

	// Replacing keeps order and the original AddedAt.
	original := list[0].AddedAt
	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", Handle: "alice2.bsky.social", AuthType: session.AuthTypeOAuth}))
	list = r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice2.bsky.social", list[0].Handle)
	assert.Equal(t, original, list[0].AddedAt)
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	r, err := NewRegistry(path)
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, r.Upsert(Account{
		SessionID:      "s1",
		DID:            "did:plc:aaa",
		Handle:         "alice.bsky.social",
		AuthType:       session.AuthTypeOAuth,
		PDSURL:         "https://pds.example",
		TokenExpiresAt: expiry,
	}))
	require.NoError(t, r.SetCurrent("did:plc:aaa"))

	reopened, err := NewRegistry(path)
	require.NoError(t, err)

	account, ok := reopened.Lookup("did:plc:aaa")
	require.True(t, ok)
	assert.Equal(t, "s1", account.SessionID)
	assert.Equal(t, session.AuthTypeOAuth, account.AuthType)
	assert.Equal(t, "https://pds.example", account.PDSURL)
	assert.True(t, account.TokenExpiresAt.Equal(expiry))

	current, ok := reopened.Current()
	require.True(t, ok)
	assert.Equal(t, "did:plc:aaa", current.DID)
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	r := testRegistry(t)
	assert.Empty(t, r.List())
	_, ok := r.Current()
	assert.False(t, ok)
}

func TestRegistryRemoveMovesCurrentPointer(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", AuthType: session.AuthTypeOAuth}))
	require.NoError(t, r.Upsert(Account{SessionID: "s2", DID: "did:plc:bbb", AuthType: session.AuthTypeOAuth}))
	require.NoError(t, r.SetCurrent("did:plc:bbb"))

	require.NoError(t, r.Remove("did:plc:bbb"))

	current, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "did:plc:aaa", current.DID)

	require.NoError(t, r.Remove("did:plc:aaa"))
	_, ok = r.Current()
	assert.False(t, ok)

	// Removing an absent account is a no-op.
	require.NoError(t, r.Remove("did:plc:gone"))
}

func TestRegistrySetCurrentUnknownDID(t *testing.T) {
	r := testRegistry(t)
	assert.Error(t, r.SetCurrent("did:plc:nope"))
}

func TestRegistryNeedsReauthFlag(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", AuthType: session.AuthTypeOAuth}))

	require.NoError(t, r.MarkNeedsReauth("did:plc:aaa"))
	account, _ := r.Lookup("did:plc:aaa")
	assert.True(t, account.NeedsReauth)

	require.NoError(t, r.ClearNeedsReauth("did:plc:aaa"))
	account, _ = r.Lookup("did:plc:aaa")
	assert.False(t, account.NeedsReauth)

	assert.Error(t, r.MarkNeedsReauth("did:plc:nope"))
}

func TestRegistryUpdateExpiry(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", AuthType: session.AuthTypeOAuth}))

	expiry := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	require.NoError(t, r.UpdateExpiry("did:plc:aaa", expiry))

	account, _ := r.Lookup("did:plc:aaa")
	assert.True(t, account.TokenExpiresAt.Equal(expiry))
}

func TestRegistryAuthTypeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	r, err := NewRegistry(path)
	require.NoError(t, err)

	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", AuthType: session.AuthTypeAppPassword}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"authType": "appPassword"`)

	reopened, err := NewRegistry(path)
	require.NoError(t, err)
	account, ok := reopened.Lookup("did:plc:aaa")
	require.True(t, ok)
	assert.Equal(t, session.AuthTypeAppPassword, account.AuthType)
}

func TestRegistryZeroTimesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	r, err := NewRegistry(path)
	require.NoError(t, err)

	// An app-password account has no token expiry; the zero time must
	// survive a save/load cycle as zero, not as a parse failure.
	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", AuthType: session.AuthTypeAppPassword}))

	reopened, err := NewRegistry(path)
	require.NoError(t, err)
	account, ok := reopened.Lookup("did:plc:aaa")
	require.True(t, ok)
	assert.True(t, account.TokenExpiresAt.IsZero())
	assert.True(t, account.LastUsedAt.IsZero())
	assert.False(t, account.AddedAt.IsZero(), "AddedAt is stamped on insert")
}

func TestNewSessionIDNeverRepeats(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate session ID %s", id)
		seen[id] = true
	}
}

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	require.NoError(t, r.Upsert(Account{SessionID: "s1", DID: "did:plc:aaa", AuthType: session.AuthTypeOAuth}))

	changed := make(chan struct{}, 1)
	w := NewWatcher(r, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	// Simulate a second process adding an account.
	other, err := NewRegistry(path)
	require.NoError(t, err)
	require.NoError(t, other.Upsert(Account{SessionID: "s2", DID: "did:plc:bbb", AuthType: session.AuthTypeOAuth}))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher never observed the external write")
	}

	_, ok := r.Lookup("did:plc:bbb")
	assert.True(t, ok)
}
