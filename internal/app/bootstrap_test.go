package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limit/internal/config"
)

func TestBootstrapWiresEverything(t *testing.T) {
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Storage.SecretsDir = filepath.Join(dir, "secrets")
	cfg.Storage.RegistryPath = filepath.Join(dir, "accounts.json")
	cfg.Refresh.Interval = 5 * time.Minute

	a, err := Bootstrap(cfg)
	require.NoError(t, err)

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.DPoP)
	assert.NotNil(t, a.Broker)
	assert.NotNil(t, a.Registry)
	assert.NotNil(t, a.Client)
	assert.NotNil(t, a.Coordinator)
	assert.NotNil(t, a.Watcher)

	deps := a.SessionDeps()
	assert.Same(t, a.Store, deps.Store)
	assert.Same(t, a.Directory, deps.Directory)
}
