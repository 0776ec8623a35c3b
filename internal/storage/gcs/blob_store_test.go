package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "previews"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectNameAppliesPrefix(t *testing.T) {
	t.Parallel()

	plain := &BlobStore{bucket: "previews"}
	assert.Equal(t, "encar_1/a.jpg", plain.ObjectName("/encar_1/a.jpg"))

	prefixed := &BlobStore{bucket: "previews", prefix: "cars"}
	assert.Equal(t, "cars/encar_1/a.jpg", prefixed.ObjectName("encar_1/a.jpg"))
}
