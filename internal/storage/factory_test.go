package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/storage/badger"
	"github.com/ternarybob/steamanim/internal/storage/file"
)

func TestNewTrustTokenStore(t *testing.T) {
	logger := arbor.NewLogger()
	dir := t.TempDir()

	config := common.NewDefaultConfig()
	config.Storage.File.Path = filepath.Join(dir, "sentry.bin")
	config.Storage.Badger.Path = filepath.Join(dir, "db")

	store, closeFn, err := NewTrustTokenStore(logger, config)
	require.NoError(t, err)
	assert.IsType(t, &file.TokenStore{}, store)
	require.NoError(t, closeFn())

	config.Storage.Type = "badger"
	store, closeFn, err = NewTrustTokenStore(logger, config)
	require.NoError(t, err)
	assert.IsType(t, &badger.TokenStorage{}, store)

	require.NoError(t, store.Save(context.Background(), "alice", []byte("guard")))
	token, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("guard"), token)
	require.NoError(t, closeFn())

	config.Storage.Type = "sqlite"
	_, _, err = NewTrustTokenStore(logger, config)
	assert.Error(t, err)
}
