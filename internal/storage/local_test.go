package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutAndDelete(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "/media/")
	require.NoError(t, err)

	ctx := context.Background()
	url, err := store.Put(ctx, "generated/post_1_abcd1234.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/media/generated/post_1_abcd1234.jpg", url)

	data, err := os.ReadFile(filepath.Join(root, "generated", "post_1_abcd1234.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	require.NoError(t, store.Delete(ctx, "generated/post_1_abcd1234.jpg"))
	_, err = os.Stat(filepath.Join(root, "generated", "post_1_abcd1234.jpg"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete(ctx, "generated/missing.jpg"))
}

func TestLocalStore_RejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../outside.jpg", []byte("x"), "image/jpeg")
	assert.Error(t, err)

	_, err = store.Put(context.Background(), "/etc/passwd", []byte("x"), "image/jpeg")
	assert.Error(t, err)
}
