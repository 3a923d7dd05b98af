package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keygate/internal/release/models"
	"keygate/pkg/platform/sentinel"
)

// TicketStore keeps verification tickets in memory. Consume removes the
// ticket under the lock so a ticket is redeemed at most once.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket
}

func New() *TicketStore {
	return &TicketStore{tickets: make(map[string]*models.Ticket)}
}

func (s *TicketStore) Save(_ context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[ticket.ID]; exists {
		return fmt.Errorf("ticket %s: %w", ticket.ID, sentinel.ErrConflict)
	}
	t := *ticket
	s.tickets[ticket.ID] = &t
	return nil
}

func (s *TicketStore) Consume(_ context.Context, ticketID string, now time.Time) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket not found: %w", sentinel.ErrNotFound)
	}
	delete(s.tickets, ticketID)
	if t.IsExpired(now) {
		return nil, fmt.Errorf("ticket expired: %w", sentinel.ErrNotFound)
	}
	return t, nil
}

// DeleteExpired drops tickets that expired before now.
func (s *TicketStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, t := range s.tickets {
		if t.IsExpired(now) {
			delete(s.tickets, id)
			deleted++
		}
	}
	return deleted, nil
}
