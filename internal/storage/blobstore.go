// Package storage implements the object-store side of the ingestion and
// playback pipeline: fetching a session's active file and persisting newly
// ingested audio, both keyed by a flat "<uuid>.ogg" namespace.
package storage

import (
	"context"
	"io"
)

// BlobStore is the storage-layer contract the broadcaster and ingestor build
// on. Production wires S3Store; tests wire Memory.
type BlobStore interface {
	// Get streams the object named key into w. Returns an *apperr.Error of
	// kind S3DownloadError if the object is missing or unreadable.
	Get(ctx context.Context, key string, w io.Writer) error
	// Put uploads size bytes read from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Delete removes the object named key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
