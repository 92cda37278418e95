package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeRecordStore persists reconciler-owned trade records.
type TradeRecordStore interface {
	Create(ctx context.Context, rec TradeRecord) error
	Update(ctx context.Context, rec TradeRecord) error
	GetByCorrelationID(ctx context.Context, correlationID string) (TradeRecord, error)
	GetByTicket(ctx context.Context, ticket string) (TradeRecord, error)
	ListByStatus(ctx context.Context, status TradeStatus, opts ListOpts) ([]TradeRecord, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]TradeRecord, error)
}

// AttemptStore persists delivery attempts for observability.
type AttemptStore interface {
	Record(ctx context.Context, attempt DeliveryAttempt) error
	ListByCorrelationID(ctx context.Context, correlationID string) ([]DeliveryAttempt, error)
	ListBefore(ctx context.Context, before time.Time) ([]DeliveryAttempt, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log: one entry per delivery
// attempt failure class, parse reject, and reconciliation anomaly.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// BlobWriter uploads serialized archives to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
