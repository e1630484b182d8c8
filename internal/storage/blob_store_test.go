package storage_test

import (
	"github.com/JakeFAU/crawl-recorder/internal/storage"
	"github.com/JakeFAU/crawl-recorder/internal/storage/gcs"
	"github.com/JakeFAU/crawl-recorder/internal/storage/local"
	"github.com/JakeFAU/crawl-recorder/internal/storage/memory"
)

var (
	_ storage.BlobStore = (*memory.BlobStore)(nil)
	_ storage.BlobStore = (*local.BlobStore)(nil)
	_ storage.BlobStore = (*gcs.BlobStore)(nil)
	_ storage.BlobStore = (*storage.MockBlobStore)(nil)
)
