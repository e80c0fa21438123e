// Package app wires the process-wide services together: configuration,
// secret store, DPoP keys, broker client, account registry, refresh
// coordinator, and the multi-account client. Commands receive one App
// and never construct services themselves.
package app

import (
	"fmt"

	"limit/internal/accounts"
	"limit/internal/broker"
	"limit/internal/client"
	"limit/internal/config"
	"limit/internal/dpop"
	"limit/internal/refresh"
	"limit/internal/secrets"
	"limit/internal/session"
)

// App holds every long-lived service for one process.
type App struct {
	Config      config.Config
	Store       *secrets.Store
	DPoP        *dpop.Manager
	Broker      *broker.Client
	Directory   *session.Directory
	Registry    *accounts.Registry
	Watcher     *accounts.Watcher
	Client      *client.MultiAccountClient
	Coordinator *refresh.Coordinator
}

// SessionDeps returns the collaborator set session configurations need.
func (a *App) SessionDeps() session.Deps {
	return session.Deps{
		Store:     a.Store,
		DPoP:      a.DPoP,
		Broker:    a.Broker,
		Directory: a.Directory,
	}
}

// Bootstrap constructs the full service graph from a loaded
// configuration. The registry watcher is created but not started;
// long-running commands opt in via a.Watcher.Start().
func Bootstrap(cfg config.Config) (*App, error) {
	store, err := secrets.NewStore(secrets.Config{
		Dir:      config.ResolvePath(cfg.Storage.SecretsDir),
		FileMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	registry, err := accounts.NewRegistry(config.ResolvePath(cfg.Storage.RegistryPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open account registry: %w", err)
	}

	a := &App{
		Config:    cfg,
		Store:     store,
		DPoP:      dpop.NewManager(store),
		Broker:    broker.NewClient(broker.Config{BaseURL: cfg.Backend.URL}),
		Directory: session.NewDirectory(),
		Registry:  registry,
	}

	a.Client = client.NewMultiAccountClient(a.SessionDeps(), registry)
	a.Coordinator = refresh.NewCoordinator(refresh.Config{
		Sessions: a.Client,
		Registry: registry,
		Interval: cfg.Refresh.Interval,
		Window:   cfg.Refresh.Window,
	})
	a.Client.SetCoordinator(a.Coordinator)
	a.Watcher = accounts.NewWatcher(registry, nil)

	return a, nil
}
