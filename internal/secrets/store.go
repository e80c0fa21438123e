package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultStorageDir is the default directory for storing account secrets,
// relative to the user's home directory.
const DefaultStorageDir = ".config/limit/secrets"

// Well-known per-account secret keys. Every credential an account can own
// lives under one of these; PurgeNamespace enumerates exactly this set.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyAppPassword  = "appPassword"
	KeyHandle       = "handle"
	KeyDID          = "did"
	KeyPDS          = "pds"
	KeyExpiresAt    = "expiresAt"
	KeyDPoPKey      = "dpopKey"
)

// KnownKeys is the fixed set of keys a namespace may hold. There is
// deliberately no bulk export; deletion walks this list explicitly.
var KnownKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyAppPassword,
	KeyHandle,
	KeyDID,
	KeyPDS,
	KeyExpiresAt,
	KeyDPoPKey,
}

// Store provides per-account namespaced storage for credentials.
//
// Every storage key embeds the account's session ID, so cross-account
// reads and writes are impossible by construction. The store is two-tier:
// an in-memory cache populated on write and first read-through, backed by
// one file per secret when file mode is enabled.
//
// SECURITY: This store handles raw credentials. Files are created with
// 0600 permissions, the directory with 0700, and secret values are NEVER
// logged -- only namespaces and key names appear in audit records.
type Store struct {
	mu       sync.RWMutex
	dir      string
	cache    map[string]string
	fileMode bool
}

// Config configures the secret store.
type Config struct {
	// Dir is the directory for secret files.
	// Defaults to ~/.config/limit/secrets.
	Dir string

	// FileMode enables file-based persistence. If false, secrets are
	// in-memory only (useful for tests).
	FileMode bool
}

// NewStore creates a secret store with the specified configuration.
func NewStore(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultStorageDir)
	}

	s := &Store{
		dir:      dir,
		cache:    make(map[string]string),
		fileMode: cfg.FileMode,
	}

	if cfg.FileMode {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create secret storage directory: %w", err)
		}
	}

	return s, nil
}

// storageKey builds the namespaced key for one secret. The namespace is
// part of every key, e.g. "account.<sessionID>.accessToken".
func storageKey(namespace, key string) string {
	return "account." + namespace + "." + key
}

// Set writes a secret under the given account namespace.
//
// Persistence is best-effort by design: a failed file write is returned
// to the caller AND logged, but most call sites treat it as non-fatal --
// the in-memory copy remains valid for the life of the process.
func (s *Store) Set(namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := storageKey(namespace, key)
	s.cache[sk] = value

	if !s.fileMode {
		return nil
	}

	if err := s.writeFile(sk, value); err != nil {
		slog.Warn("SECURITY_AUDIT: secret write failed",
			"event", "secret_write_failed",
			"namespace", namespace,
			"key", key,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to persist secret %s: %w", key, err)
	}
	return nil
}

// Get reads a secret from the account namespace. A missing secret is
// reported as ("", false), never as an error.
func (s *Store) Get(namespace, key string) (string, bool) {
	sk := storageKey(namespace, key)

	s.mu.RLock()
	if v, ok := s.cache[sk]; ok {
		s.mu.RUnlock()
		return v, true
	}
	s.mu.RUnlock()

	if !s.fileMode {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check in case another goroutine populated the cache.
	if v, ok := s.cache[sk]; ok {
		return v, true
	}

	v, err := s.readFile(sk)
	if err != nil {
		return "", false
	}
	s.cache[sk] = v
	return v, true
}

// Delete removes one secret from the account namespace. Deleting a secret
// that doesn't exist is a no-op.
func (s *Store) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(namespace, key)
}

func (s *Store) deleteLocked(namespace, key string) error {
	sk := storageKey(namespace, key)
	delete(s.cache, sk)

	if !s.fileMode {
		return nil
	}

	if err := os.Remove(s.filePath(sk)); err != nil && !os.IsNotExist(err) {
		slog.Warn("SECURITY_AUDIT: secret deletion failed",
			"event", "secret_delete_failed",
			"namespace", namespace,
			"key", key,
			"error", err.Error(),
		)
		return err
	}
	return nil
}

// PurgeNamespace removes every known secret for an account. Idempotent.
// SECURITY: Logs the purge for audit trail without logging values.
func (s *Store) PurgeNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, key := range KnownKeys {
		if err := s.deleteLocked(namespace, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	slog.Info("SECURITY_AUDIT: account secrets purged",
		"event", "namespace_purged",
		"namespace", namespace,
	)
	return firstErr
}

func (s *Store) filePath(storageKey string) string {
	return filepath.Join(s.dir, storageKey)
}

func (s *Store) writeFile(storageKey, value string) error {
	return os.WriteFile(s.filePath(storageKey), []byte(value), 0600)
}

func (s *Store) readFile(storageKey string) (string, error) {
	// #nosec G304 -- path is built from internal storage keys, not user input
	data, err := os.ReadFile(s.filePath(storageKey))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
