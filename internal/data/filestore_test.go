package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GradeLane/internal/conf"
)

func newTestFileStore(t *testing.T) (*DiskFileStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewDiskFileStore(&conf.Data{Storage: &conf.Data_Storage{Root: root}}, log.DefaultLogger)
	require.NoError(t, err)
	return store, root
}

func TestDiskFileStore_ReadsStoredFile(t *testing.T) {
	store, root := newTestFileStore(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "2026", "08"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026", "08", "essay.pdf"), []byte("%PDF-1.7"), 0o644))

	data, err := store.GetFileBytes(context.Background(), "2026/08/essay.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)
}

func TestDiskFileStore_MissingFile(t *testing.T) {
	store, _ := newTestFileStore(t)

	_, err := store.GetFileBytes(context.Background(), "nope.pdf")
	assert.Error(t, err)
}

func TestDiskFileStore_RejectsTraversal(t *testing.T) {
	store, root := newTestFileStore(t)

	secret := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o644))

	for _, key := range []string{"../secret.txt", "a/../../secret.txt", ""} {
		_, err := store.GetFileBytes(context.Background(), key)
		assert.Error(t, err, "key %q must be rejected", key)
	}
}
