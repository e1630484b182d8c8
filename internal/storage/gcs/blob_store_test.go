package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "exports"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectNameAppliesPrefix(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "exports", Prefix: "/crawls/"})
	require.NoError(t, err)
	require.Equal(t, "crawls/records.jsonl", store.ObjectName("records.jsonl"))

	bare, err := New(&storage.Client{}, Config{Bucket: "exports"})
	require.NoError(t, err)
	require.Equal(t, "records.jsonl", bare.ObjectName("records.jsonl"))
}
