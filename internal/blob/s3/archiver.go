package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// ArchiveImpl pages settled delivery history out of the primary store:
// delivery attempts and audit entries older than the cutoff are serialized
// to JSONL and uploaded to object storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here -- that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	attempts domain.AttemptStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	attempts domain.AttemptStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		attempts: attempts,
		audit:    audit,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAttempts uploads all delivery attempts that ended before the cutoff
// to archive/attempts/YYYY-MM.jsonl and returns the archived count. The
// archival event itself is recorded in the audit log.
func (a *ArchiveImpl) ArchiveAttempts(ctx context.Context, before time.Time) (int64, error) {
	attempts, err := a.attempts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts query: %w", err)
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(attempts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts marshal: %w", err)
	}

	path := archivePath("attempts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive attempts upload: %w", err)
	}

	count := int64(len(attempts))

	if err := a.audit.Log(ctx, "archive.attempts", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive attempts audit log: %w", err)
	}

	return count, nil
}

// ArchiveAuditLog uploads audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl and returns the archived count.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// Run archives on the given interval until the context ends. Each cycle
// archives everything older than the retention window.
func (a *ArchiveImpl) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := a.ArchiveAttempts(ctx, cutoff); err != nil {
				a.logger.Error("attempt archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("attempts archived", slog.Int64("count", n))
			}
			if n, err := a.ArchiveAuditLog(ctx, cutoff); err != nil {
				a.logger.Error("audit archive failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("audit entries archived", slog.Int64("count", n))
			}
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/attempts/2025-01.jsonl
//	archive/audit/2025-01.jsonl
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
