// Package metadatastore persists per-user file ownership records: which
// user ingested which source URL under which blob key. It backs the
// duplicate-download check in internal/ingest.
package metadatastore

import (
	"context"
	"time"

	"github.com/fzcomet206/musicshare/internal/authctx"
)

// FileRecord is one row of the files table.
type FileRecord struct {
	Key         string // blob key, without the .ogg suffix
	OwnerUserID string
	URL         string
	Title       string
	CreatedAt   time.Time
}

// MetadataStore is the relational side of the ingestion pipeline.
type MetadataStore interface {
	// FindByUserURL returns nil, nil if no record exists for (userID, url).
	FindByUserURL(ctx context.Context, userID, url string) (*FileRecord, error)
	Insert(ctx context.Context, rec FileRecord) error
	ListByUser(ctx context.Context, userID string) ([]FileRecord, error)
	DeleteByKey(ctx context.Context, key string) error
	// EnsureUser upserts the users row holding user's profile.
	EnsureUser(ctx context.Context, user authctx.UserContext, oauthType, sub string) error
}
