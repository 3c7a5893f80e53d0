package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "images")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		data := []byte("BM fake bitmap")
		uri, err := store.PutObject(ctx, "images/Contest.bmp", "image/bmp", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "images/Contest.bmp"), uri)

		rc, err := store.GetObject(ctx, "images/Contest.bmp")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("OverwriteReplacesContent", func(t *testing.T) {
		_, err := store.PutObject(ctx, "a.bmp", "image/bmp", bytes.NewReader([]byte("old")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "a.bmp", "image/bmp", bytes.NewReader([]byte("new")))
		require.NoError(t, err)

		rc, err := store.GetObject(ctx, "a.bmp")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := store.GetObject(ctx, "nope.bmp")
		assert.ErrorIs(t, err, contest.ErrNotFound)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "image/bmp", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.bmp", "image/bmp", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
		_, err = store.GetObject(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})
}
