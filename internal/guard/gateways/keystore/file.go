package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists root CA material as two sibling files under Dir:
// root.key (DER, mode 0600) and root.crt (DER, mode 0644). The key file's
// restrictive permission is the only access control the MITM proxy has
// over its own trust anchor.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir. dir is created on first
// SaveRoot if it does not already exist.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (f *FileStore) keyPath() string  { return filepath.Join(f.Dir, "root.key") }
func (f *FileStore) certPath() string { return filepath.Join(f.Dir, "root.crt") }

func (f *FileStore) LoadRoot(_ context.Context) ([]byte, []byte, error) {
	keyDER, err := os.ReadFile(f.keyPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, os.ErrNotExist
		}
		return nil, nil, fmt.Errorf("read root key: %w", err)
	}
	certDER, err := os.ReadFile(f.certPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, os.ErrNotExist
		}
		return nil, nil, fmt.Errorf("read root cert: %w", err)
	}
	return keyDER, certDER, nil
}

func (f *FileStore) SaveRoot(_ context.Context, keyDER, certDER []byte) error {
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	if err := os.WriteFile(f.keyPath(), keyDER, 0o600); err != nil {
		return fmt.Errorf("write root key: %w", err)
	}
	if err := os.WriteFile(f.certPath(), certDER, 0o644); err != nil {
		return fmt.Errorf("write root cert: %w", err)
	}
	return nil
}

// DeleteRoot removes both root files. A store with nothing persisted yet
// is treated as already-deleted, not an error.
func (f *FileStore) DeleteRoot(_ context.Context) error {
	if err := os.Remove(f.keyPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove root key: %w", err)
	}
	if err := os.Remove(f.certPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove root cert: %w", err)
	}
	return nil
}
