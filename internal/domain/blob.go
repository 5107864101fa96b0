package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to the configured bucket.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ReportArchiver exports aged breach records to object storage as compliance
// evidence and reports how many records each export covered.
type ReportArchiver interface {
	// ArchiveBreaches exports all breach records older than the cutoff and
	// returns the number of records written.
	ArchiveBreaches(ctx context.Context, before time.Time) (int64, error)
	// PruneBreaches deletes breach records that were already exported, i.e.
	// records older than the cutoff. Callers run this only after verifying
	// the corresponding archive upload.
	PruneBreaches(ctx context.Context, before time.Time) (int64, error)
}
