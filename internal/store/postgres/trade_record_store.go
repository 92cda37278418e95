package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// TradeRecordStore implements domain.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *pgxpool.Pool
}

// NewTradeRecordStore creates a new TradeRecordStore backed by the given
// connection pool.
func NewTradeRecordStore(pool *pgxpool.Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

const tradeRecordCols = `correlation_id, ticket, account_id, terminal_id,
	symbol, side, volume, status, entry_price, exit_price,
	stop_loss, take_profit, profit,
	error_kind, error_detail, dispatched_at, opened_at, closed_at, updated_at`

func scanTradeRecord(row pgx.Row) (domain.TradeRecord, error) {
	var r domain.TradeRecord
	err := row.Scan(
		&r.CorrelationID, &r.Ticket, &r.AccountID, &r.TerminalID,
		&r.Symbol, &r.Side, &r.Volume, &r.Status,
		&r.EntryPrice, &r.ExitPrice,
		&r.StopLoss, &r.TakeProfit, &r.Profit,
		&r.ErrorKind, &r.ErrorDetail,
		&r.DispatchedAt, &r.OpenedAt, &r.ClosedAt, &r.UpdatedAt,
	)
	return r, err
}

func scanTradeRecordRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for rows.Next() {
		r, err := scanTradeRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Create inserts a new trade record. Returns domain.ErrAlreadyExists when
// the correlation id is taken.
func (s *TradeRecordStore) Create(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (` + tradeRecordCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := s.pool.Exec(ctx, query,
		rec.CorrelationID, rec.Ticket, rec.AccountID, rec.TerminalID,
		rec.Symbol, rec.Side, rec.Volume, rec.Status,
		rec.EntryPrice, rec.ExitPrice,
		rec.StopLoss, rec.TakeProfit, rec.Profit,
		rec.ErrorKind, rec.ErrorDetail,
		rec.DispatchedAt, rec.OpenedAt, rec.ClosedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: trade record %s: %w", rec.CorrelationID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create trade record %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// Update replaces an existing record. Returns domain.ErrNotFound when the
// correlation id is unknown.
func (s *TradeRecordStore) Update(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		UPDATE trade_records SET
			ticket = $2, account_id = $3, terminal_id = $4,
			symbol = $5, side = $6, volume = $7, status = $8,
			entry_price = $9, exit_price = $10,
			stop_loss = $11, take_profit = $12, profit = $13,
			error_kind = $14, error_detail = $15,
			dispatched_at = $16, opened_at = $17, closed_at = $18, updated_at = $19
		WHERE correlation_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		rec.CorrelationID, rec.Ticket, rec.AccountID, rec.TerminalID,
		rec.Symbol, rec.Side, rec.Volume, rec.Status,
		rec.EntryPrice, rec.ExitPrice,
		rec.StopLoss, rec.TakeProfit, rec.Profit,
		rec.ErrorKind, rec.ErrorDetail,
		rec.DispatchedAt, rec.OpenedAt, rec.ClosedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade record %s: %w", rec.CorrelationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: trade record %s: %w", rec.CorrelationID, domain.ErrNotFound)
	}
	return nil
}

// GetByCorrelationID returns the record for the given correlation id.
func (s *TradeRecordStore) GetByCorrelationID(ctx context.Context, correlationID string) (domain.TradeRecord, error) {
	const query = `SELECT ` + tradeRecordCols + ` FROM trade_records WHERE correlation_id = $1`

	rec, err := scanTradeRecord(s.pool.QueryRow(ctx, query, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("postgres: trade record %s: %w", correlationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade record %s: %w", correlationID, err)
	}
	return rec, nil
}

// GetByTicket returns the record holding the given terminal ticket. Orphan
// records share the ticket namespace, so the newest match wins.
func (s *TradeRecordStore) GetByTicket(ctx context.Context, ticket string) (domain.TradeRecord, error) {
	const query = `SELECT ` + tradeRecordCols + ` FROM trade_records
		WHERE ticket = $1 ORDER BY updated_at DESC LIMIT 1`

	rec, err := scanTradeRecord(s.pool.QueryRow(ctx, query, ticket))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("postgres: ticket %s: %w", ticket, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade record by ticket %s: %w", ticket, err)
	}
	return rec, nil
}

// ListByStatus returns records in the given status, newest update first.
func (s *TradeRecordStore) ListByStatus(ctx context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.list(ctx, "status = $1", string(status), opts)
}

// ListByAccount returns records for the given account, newest update first.
func (s *TradeRecordStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.list(ctx, "account_id = $1", accountID, opts)
}

func (s *TradeRecordStore) list(ctx context.Context, where, arg string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordCols + ` FROM trade_records WHERE ` + where
	args := []any{arg}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND updated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY updated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade records: %w", err)
	}
	defer rows.Close()

	records, err := scanTradeRecordRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade records: %w", err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.TradeRecordStore = (*TradeRecordStore)(nil)
