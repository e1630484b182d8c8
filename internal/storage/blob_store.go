// Package storage defines the blob storage abstraction used by record
// exports. Backends live in the memory, local and gcs subpackages; crawl
// records themselves are kept by the record stores in postgres, sqlite and
// memory.
package storage

import (
	"context"
	"io"
)

// BlobStore writes one object and returns a URI describing where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
