package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "thumbs"})
	assert.Error(t, err)

	_, err = New(&storage.Client{}, Config{Bucket: "  "})
	assert.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "thumbs"})
	require.NoError(t, err)
	assert.Equal(t, "thumbs", store.bucket)
}

func TestEmptyPathRejected(t *testing.T) {
	store := &BlobStore{client: &storage.Client{}, bucket: "thumbs"}

	_, err := store.PutObject(context.Background(), " ", "image/bmp", nil)
	assert.Error(t, err)

	_, err = store.GetObject(context.Background(), "")
	assert.Error(t, err)
}
