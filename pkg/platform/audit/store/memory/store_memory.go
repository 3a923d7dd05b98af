// Package memory is the audit trail used when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sync"

	id "keygate/pkg/domain"
	audit "keygate/pkg/platform/audit"
)

const defaultCapacity = 10_000

// Store is an append-only, bounded event log. Once full, the oldest events
// are dropped; arrival order is preserved for every read.
type Store struct {
	mu       sync.RWMutex
	log      []audit.Event
	capacity int
}

type Option func(*Store)

// WithCapacity bounds the number of retained events. Non-positive values
// keep the default.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.log) >= s.capacity {
		drop := len(s.log) - s.capacity + 1
		s.log = append(s.log[:0:0], s.log[drop:]...)
	}
	s.log = append(s.log, event)
	return nil
}

func (s *Store) ListByUser(_ context.Context, userID id.UserID) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.UserID == userID }), nil
}

// ListBySubject returns the trail of one key request in arrival order.
func (s *Store) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.Subject == subject }), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

func (s *Store) filter(keep func(audit.Event) bool) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.log {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
