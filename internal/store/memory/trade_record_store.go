// Package memory provides in-memory implementations of the domain store
// interfaces, used by tests and by deployments that have not configured a
// database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// TradeRecordStore is an in-memory implementation of domain.TradeRecordStore.
type TradeRecordStore struct {
	mu       sync.RWMutex
	byCorr   map[string]*domain.TradeRecord
	byTicket map[string]string // ticket -> correlation id
	order    []string          // insertion order of correlation ids
}

// NewTradeRecordStore creates an empty store.
func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		byCorr:   make(map[string]*domain.TradeRecord),
		byTicket: make(map[string]string),
	}
}

// Create adds a new record. Returns domain.ErrAlreadyExists on a duplicate
// correlation id.
func (s *TradeRecordStore) Create(_ context.Context, rec domain.TradeRecord) error {
	if rec.CorrelationID == "" {
		return fmt.Errorf("memory: create trade record: missing correlation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCorr[rec.CorrelationID]; exists {
		return fmt.Errorf("memory: trade record %s: %w", rec.CorrelationID, domain.ErrAlreadyExists)
	}
	stored := rec
	s.byCorr[rec.CorrelationID] = &stored
	s.order = append(s.order, rec.CorrelationID)
	if rec.Ticket != "" {
		s.byTicket[rec.Ticket] = rec.CorrelationID
	}
	return nil
}

// Update replaces an existing record. Returns domain.ErrNotFound when the
// correlation id is unknown.
func (s *TradeRecordStore) Update(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.byCorr[rec.CorrelationID]
	if !exists {
		return fmt.Errorf("memory: trade record %s: %w", rec.CorrelationID, domain.ErrNotFound)
	}
	if old.Ticket != "" && old.Ticket != rec.Ticket {
		delete(s.byTicket, old.Ticket)
	}
	stored := rec
	s.byCorr[rec.CorrelationID] = &stored
	if rec.Ticket != "" {
		s.byTicket[rec.Ticket] = rec.CorrelationID
	}
	return nil
}

// GetByCorrelationID returns the record for the given correlation id.
func (s *TradeRecordStore) GetByCorrelationID(_ context.Context, correlationID string) (domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.byCorr[correlationID]
	if !exists {
		return domain.TradeRecord{}, fmt.Errorf("memory: trade record %s: %w", correlationID, domain.ErrNotFound)
	}
	return *rec, nil
}

// GetByTicket returns the record holding the given terminal ticket.
func (s *TradeRecordStore) GetByTicket(_ context.Context, ticket string) (domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	corr, exists := s.byTicket[ticket]
	if !exists {
		return domain.TradeRecord{}, fmt.Errorf("memory: ticket %s: %w", ticket, domain.ErrNotFound)
	}
	return *s.byCorr[corr], nil
}

// ListByStatus returns records in the given status, newest update first.
func (s *TradeRecordStore) ListByStatus(_ context.Context, status domain.TradeStatus, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.list(func(r *domain.TradeRecord) bool { return r.Status == status }, opts), nil
}

// ListByAccount returns records for the given account, newest update first.
func (s *TradeRecordStore) ListByAccount(_ context.Context, accountID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return s.list(func(r *domain.TradeRecord) bool { return r.AccountID == accountID }, opts), nil
}

func (s *TradeRecordStore) list(match func(*domain.TradeRecord) bool, opts domain.ListOpts) []domain.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TradeRecord, 0)
	for _, corr := range s.order {
		r := s.byCorr[corr]
		if !match(r) {
			continue
		}
		if opts.Since != nil && r.UpdatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.UpdatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
