package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"keygate/internal/ledger/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

// numShards spreads keys across independent locks so approvals for
// different keys never contend.
const numShards = 128

type shard struct {
	mu      sync.Mutex
	entries map[id.KeyID]*models.Entry
}

// Store is an in-memory approval ledger. Each key is guarded by its shard
// lock, which serializes conflicting approvals for the same key.
type Store struct {
	shards [numShards]shard
}

func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].entries = make(map[id.KeyID]*models.Entry)
	}
	return s
}

func (s *Store) shardFor(keyID id.KeyID) *shard {
	return &s.shards[hashKey(keyID)%numShards]
}

// hashKey is FNV-1a over the raw key bytes.
func hashKey(keyID id.KeyID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(keyID[:])
	return h.Sum32()
}

func (s *Store) Register(_ context.Context, keyID id.KeyID, threshold int) error {
	sh := s.shardFor(keyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.entries[keyID]; exists {
		return sentinel.ErrConflict
	}
	sh.entries[keyID] = &models.Entry{
		KeyID:        keyID,
		Threshold:    threshold,
		RegisteredAt: time.Now(),
	}
	return nil
}

func (s *Store) AddApproval(_ context.Context, keyID id.KeyID, authority id.Address) (*models.Entry, bool, error) {
	sh := s.shardFor(keyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry, ok := sh.entries[keyID]
	if !ok {
		return nil, false, sentinel.ErrNotFound
	}
	if entry.HasApproved(authority) {
		return cloneEntry(entry), false, nil
	}
	entry.Approvers = append(entry.Approvers, authority)
	if entry.Count() >= entry.Threshold {
		entry.Approved = true
	}
	return cloneEntry(entry), true, nil
}

func (s *Store) Get(_ context.Context, keyID id.KeyID) (*models.Entry, error) {
	sh := s.shardFor(keyID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	entry, ok := sh.entries[keyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEntry(entry), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func cloneEntry(e *models.Entry) *models.Entry {
	cp := *e
	cp.Approvers = append([]id.Address(nil), e.Approvers...)
	return &cp
}
