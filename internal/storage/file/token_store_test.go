package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestTokenStore_MissingFileIsNotAnError(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "sentry.bin"), arbor.NewLogger())

	token, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestTokenStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sentry.bin")
	store := NewTokenStore(path, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "alice", []byte("first-token-which-is-longer")))
	require.NoError(t, store.Save(ctx, "alice", []byte("second")))

	token, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestTokenStore_EmptyFileReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentry.bin")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	token, err := NewTokenStore(path, arbor.NewLogger()).Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, token)
}
