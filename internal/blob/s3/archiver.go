package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// archiveRecord is the JSONL shape of one exported breach. The field names
// are frozen here so database column renames never silently change the
// archive format.
type archiveRecord struct {
	ID           string    `json:"id"`
	AccountLabel string    `json:"account_label"`
	Firm         string    `json:"firm,omitempty"`
	Code         string    `json:"code"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	Value        float64   `json:"value"`
	Threshold    float64   `json:"threshold"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// BreachArchiver implements domain.ReportArchiver by querying the breach log
// for aged records, serializing them to JSONL, and uploading the result to
// object storage as compliance evidence.
//
// Pruning the archived records from the primary store is a separate, explicit
// step; callers run PruneBreaches only after the archive upload succeeded.
type BreachArchiver struct {
	writer   domain.BlobWriter
	breaches domain.BreachStore
	logger   *slog.Logger
}

// NewBreachArchiver creates a new BreachArchiver.
func NewBreachArchiver(writer domain.BlobWriter, breaches domain.BreachStore, logger *slog.Logger) *BreachArchiver {
	return &BreachArchiver{
		writer:   writer,
		breaches: breaches,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveBreaches exports all breach records older than the cutoff to
// archive/breaches/YYYY-MM.jsonl and returns how many records were written.
func (a *BreachArchiver) ArchiveBreaches(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.breaches.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive breaches query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	out := make([]archiveRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, archiveRecord{
			ID:           r.ID,
			AccountLabel: r.AccountLabel,
			Firm:         r.Firm,
			Code:         string(r.Code),
			Level:        string(r.Level),
			Message:      r.Message,
			Value:        r.Value,
			Threshold:    r.Threshold,
			OccurredAt:   r.OccurredAt,
			CreatedAt:    r.CreatedAt,
		})
	}

	buf, err := marshalJSONL(out)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive breaches marshal: %w", err)
	}

	path := archivePath("breaches", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive breaches upload: %w", err)
	}

	count := int64(len(recs))
	a.logger.InfoContext(ctx, "breach archive uploaded",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// PruneBreaches deletes breach records older than the cutoff from the primary
// store and returns how many rows were removed.
func (a *BreachArchiver) PruneBreaches(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := a.breaches.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune breaches: %w", err)
	}
	if deleted > 0 {
		a.logger.InfoContext(ctx, "breach log pruned",
			slog.Int64("deleted", deleted),
			slog.Time("before", before),
		)
	}
	return deleted, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/breaches/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.ReportArchiver = (*BreachArchiver)(nil)
