package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// AttemptStore implements domain.AttemptStore using PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore backed by the given connection
// pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptCols = `id, correlation_id, terminal_id, transport, number,
	outcome, detail, started_at, ended_at`

func scanAttemptRows(rows pgx.Rows) ([]domain.DeliveryAttempt, error) {
	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		if err := rows.Scan(
			&a.ID, &a.CorrelationID, &a.TerminalID, &a.Transport,
			&a.Number, &a.Outcome, &a.Detail, &a.StartedAt, &a.EndedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Record appends one delivery attempt.
func (s *AttemptStore) Record(ctx context.Context, attempt domain.DeliveryAttempt) error {
	const query = `
		INSERT INTO delivery_attempts (` + attemptCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		attempt.ID, attempt.CorrelationID, attempt.TerminalID, attempt.Transport,
		attempt.Number, attempt.Outcome, attempt.Detail, attempt.StartedAt, attempt.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// ListByCorrelationID returns all attempts for a correlation id in attempt
// order.
func (s *AttemptStore) ListByCorrelationID(ctx context.Context, correlationID string) ([]domain.DeliveryAttempt, error) {
	const query = `SELECT ` + attemptCols + ` FROM delivery_attempts
		WHERE correlation_id = $1 ORDER BY number ASC`

	rows, err := s.pool.Query(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts %s: %w", correlationID, err)
	}
	defer rows.Close()

	attempts, err := scanAttemptRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan attempts %s: %w", correlationID, err)
	}
	return attempts, nil
}

// ListBefore returns attempts that ended before the given time. The archiver
// uses this to page out settled history.
func (s *AttemptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.DeliveryAttempt, error) {
	const query = `SELECT ` + attemptCols + ` FROM delivery_attempts
		WHERE ended_at < $1 ORDER BY ended_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	attempts, err := scanAttemptRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan attempts before: %w", err)
	}
	return attempts, nil
}

// Compile-time interface check.
var _ domain.AttemptStore = (*AttemptStore)(nil)
