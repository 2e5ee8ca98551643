// Package file keeps the trust token as a single opaque blob on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
)

// TokenStore reads and overwrites one file. The process signs in a single
// account, so the account name only appears in logs.
type TokenStore struct {
	path   string
	logger arbor.ILogger
}

// NewTokenStore creates a store for path (relative paths resolve against the
// working directory).
func NewTokenStore(path string, logger arbor.ILogger) *TokenStore {
	return &TokenStore{
		path:   path,
		logger: logger,
	}
}

// Path returns the file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the stored token, or nil when the file does not exist.
func (s *TokenStore) Load(ctx context.Context, accountName string) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug().Str("path", s.path).Str("account", accountName).Msg("No trust token file found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trust token %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Save overwrites the token file via a temp file and rename.
func (s *TokenStore) Save(ctx context.Context, accountName string, token []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trust-token-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(token); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write trust token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close trust token: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set trust token permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace trust token %s: %w", s.path, err)
	}

	s.logger.Debug().Str("path", s.path).Str("account", accountName).Int("bytes", len(token)).Msg("Trust token saved")
	return nil
}
