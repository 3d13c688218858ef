package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "pages"})
	require.ErrorContains(t, err, "storage client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket name is required")

	store, err := New(client, Config{Bucket: "pages"})
	require.NoError(t, err)
	require.NoError(t, store.Close(), "borrowed clients are not closed")

	_, err = store.PutObject(context.Background(), "", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}

func TestURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gs://pages/ecnu/page-0001.json", URI("pages", "ecnu/page-0001.json"))
}
