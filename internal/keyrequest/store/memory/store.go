package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"keygate/internal/keyrequest/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

// Store keeps key requests in memory. Execute holds the write lock across
// validate and mutate, which makes it the compare-and-swap used for release.
type Store struct {
	mu       sync.RWMutex
	requests map[id.KeyID]*models.KeyRequest
}

func New() *Store {
	return &Store{requests: make(map[id.KeyID]*models.KeyRequest)}
}

func (s *Store) Create(_ context.Context, req *models.KeyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.KeyID]; exists {
		return fmt.Errorf("key request %s: %w", req.KeyID, sentinel.ErrConflict)
	}
	s.requests[req.KeyID] = clone(req)
	return nil
}

func (s *Store) FindByKeyID(_ context.Context, keyID id.KeyID) (*models.KeyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[keyID]
	if !ok {
		return nil, fmt.Errorf("key request not found: %w", sentinel.ErrNotFound)
	}
	return clone(req), nil
}

// ListByRequester returns a user's requests, newest first.
func (s *Store) ListByRequester(_ context.Context, userID id.UserID) ([]*models.KeyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.KeyRequest
	for _, req := range s.requests {
		if req.RequesterID == userID {
			out = append(out, clone(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Execute validates and mutates a request atomically. When validate fails
// the current record is returned alongside the error and nothing changes.
func (s *Store) Execute(_ context.Context, keyID id.KeyID, validate func(*models.KeyRequest) error, mutate func(*models.KeyRequest)) (*models.KeyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[keyID]
	if !ok {
		return nil, fmt.Errorf("key request not found: %w", sentinel.ErrNotFound)
	}
	working := clone(current)
	if err := validate(working); err != nil {
		return clone(current), err
	}
	mutate(working)
	s.requests[keyID] = working
	return clone(working), nil
}

func clone(r *models.KeyRequest) *models.KeyRequest {
	cp := *r
	cp.Attributes = append([]string(nil), r.Attributes...)
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		cp.ApprovedAt = &t
	}
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		cp.ReleasedAt = &t
	}
	return &cp
}
