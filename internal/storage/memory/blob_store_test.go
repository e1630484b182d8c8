package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "exports/records.jsonl", "application/x-ndjson", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://exports/records.jsonl" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	obj, ok := store.Object("exports/records.jsonl")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(obj.Data) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", obj.Data)
	}
	if obj.ContentType != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", obj.ContentType)
	}
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for empty path")
	}
}
