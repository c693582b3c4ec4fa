// Package store persists credential documents as pretty-printed JSON files in
// a fixed per-user directory. The downstream proxy reads the same files, so
// the on-disk layout ({provider}-{identifier}.json) is a contract.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errUtils "github.com/quotio/quotio-cli/errors"
	"github.com/quotio/quotio-cli/internal/auth/types"
)

const (
	// DirPermissions restricts the credential directory to the owner.
	DirPermissions = 0o700
	// FilePermissions restricts credential files to the owner.
	FilePermissions = 0o600
)

// StoredCredential is a credential tagged with its storage key so a later
// Save can rewrite the same file. The key is never persisted inside the
// document itself.
type StoredCredential struct {
	*types.Credential
	Key  string
	Path string
}

// Identifier returns the credential's display identifier: its email, or the
// storage key when no email is present.
func (sc *StoredCredential) Identifier() string {
	if sc.Email != "" {
		return sc.Email
	}
	return sc.Key
}

// Store is a file-backed credential store. It is synchronous and assumes a
// single writer process.
type Store struct {
	dir string
}

// DefaultDir returns the fixed per-user credential directory.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cli-proxy-api"), nil
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return nil, fmt.Errorf("%w: failed to create credential directory: %w", errUtils.ErrCredentialStore, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// sanitizeIdentifier normalizes an identifier into a filesystem-safe form.
// Anything outside [A-Za-z0-9-] becomes an underscore.
func sanitizeIdentifier(identifier string) string {
	var b strings.Builder
	for _, r := range identifier {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Key returns the storage key for a (provider, identifier) pair.
func Key(provider types.Provider, identifier string) string {
	return fmt.Sprintf("%s-%s", provider, sanitizeIdentifier(identifier))
}

func (s *Store) pathForKey(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save writes the credential document for (provider, identifier), overwriting
// any existing document at the same key.
func (s *Store) Save(provider types.Provider, identifier string, cred *types.Credential) error {
	return s.SaveKey(Key(provider, identifier), cred)
}

// SaveKey rewrites a credential at an existing storage key. The write goes to
// a temporary file first and is moved into place so a crash cannot leave a
// torn document.
func (s *Store) SaveKey(key string, cred *types.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal credential: %w", errUtils.ErrCredentialStore, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-cred-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", errUtils.ErrCredentialStore, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to write credential: %w", errUtils.ErrCredentialStore, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to close temp file: %w", errUtils.ErrCredentialStore, err)
	}
	if err := os.Chmod(tmpPath, FilePermissions); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to set permissions: %w", errUtils.ErrCredentialStore, err)
	}
	if err := os.Rename(tmpPath, s.pathForKey(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to move credential into place: %w", errUtils.ErrCredentialStore, err)
	}

	return nil
}

// Load returns the credential for (provider, identifier), or nil when no
// document exists for the key. Absence is not an error.
func (s *Store) Load(provider types.Provider, identifier string) (*types.Credential, error) {
	data, err := os.ReadFile(s.pathForKey(Key(provider, identifier)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read credential: %w", errUtils.ErrCredentialStore, err)
	}

	var cred types.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal credential: %w", errUtils.ErrCredentialStore, err)
	}
	return &cred, nil
}

// List enumerates all stored credential documents, optionally filtered by
// provider. Unreadable or malformed files are skipped rather than failing the
// whole listing.
func (s *Store) List(provider types.Provider) ([]*StoredCredential, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read credential directory: %w", errUtils.ErrCredentialStore, err)
	}

	var creds []*StoredCredential
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var cred types.Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			continue
		}
		if provider != "" && cred.Type != provider {
			continue
		}

		creds = append(creds, &StoredCredential{
			Credential: &cred,
			Key:        strings.TrimSuffix(entry.Name(), ".json"),
			Path:       path,
		})
	}

	return creds, nil
}
