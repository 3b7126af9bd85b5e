package cas_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/cas"
	"go.trai.ch/apkforge/internal/core/domain"
)

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := cas.NewStore()

	info := domain.BuildInfo{
		Variant:    "release",
		TaskName:   "package:x86_64",
		InputHash:  "abc",
		OutputHash: "def",
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Put(root, info))

	got, err := store.Get(root, info.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, info, *got)

	other, err := store.Get(root, domain.BuildInfoKey("debug", "package:x86_64"))
	require.NoError(t, err)
	assert.Nil(t, other, "variants do not share records")
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	got, err := cas.NewStore().Get(t.TempDir(), "release/shrink")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_GetCorrupt(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := cas.NewStore()
	require.NoError(t, store.Put(root, domain.BuildInfo{Variant: "debug", TaskName: "merge"}))

	dir := filepath.Join(root, domain.DefaultStorePath())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, entries[0].Name()), []byte("{ invalid json"), 0o600))

	_, err = store.Get(root, "debug/merge")
	require.Error(t, err)
	assert.ErrorContains(t, err, domain.ErrStoreUnmarshalFailed.Error())
}
