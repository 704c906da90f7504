package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, ok, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set("target", "org.gnome.Maps"))
	v, ok, err := store.Get("target")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "org.gnome.Maps", v)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("enabled", "1"))
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	v, ok, err := reopened.Get("enabled")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestFileStoreRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	// Removing an absent key is fine.
	require.NoError(t, store.Remove("ghost"))

	require.NoError(t, store.Set("k", "v"))
	require.NoError(t, store.Remove("k"))

	_, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removal persists across reopen.
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	_, ok, err = reopened.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFileName), []byte("{not json"), 0600))

	_, err := NewFileStore(dir)
	assert.Error(t, err)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("a", "1"))
	require.NoError(t, store.Set("b", "2"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, settingsFileName, entries[0].Name())
}
