package memory

import (
	"context"
	"sync"

	"keygate/internal/files/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

type record struct {
	file *models.File
	key  []byte
}

// Store is an in-memory file catalog and key vault for dev and tests.
type Store struct {
	mu    sync.RWMutex
	files map[id.FileID]record
}

func New() *Store {
	return &Store{files: make(map[id.FileID]record)}
}

// Put adds or replaces a file with its wrapped key.
func (s *Store) Put(file *models.File, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := *file
	s.files[file.ID] = record{file: &f, key: append([]byte(nil), key...)}
}

func (s *Store) Resolve(_ context.Context, fileID id.FileID) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	f := *rec.file
	return &f, nil
}

func (s *Store) KeyMaterial(_ context.Context, fileID id.FileID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), rec.key...), nil
}
