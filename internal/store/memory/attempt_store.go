package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// AttemptStore is an in-memory implementation of domain.AttemptStore.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts []domain.DeliveryAttempt
}

// NewAttemptStore creates an empty store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

// Record appends one delivery attempt.
func (s *AttemptStore) Record(_ context.Context, attempt domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// ListByCorrelationID returns attempts for the correlation id in record order.
func (s *AttemptStore) ListByCorrelationID(_ context.Context, correlationID string) ([]domain.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DeliveryAttempt
	for _, a := range s.attempts {
		if a.CorrelationID == correlationID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListBefore returns attempts started strictly before the cutoff.
func (s *AttemptStore) ListBefore(_ context.Context, before time.Time) ([]domain.DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DeliveryAttempt
	for _, a := range s.attempts {
		if a.StartedAt.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}
