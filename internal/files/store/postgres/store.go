package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"keygate/internal/files/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

// Store reads the files table written by the upload service. It never writes
// outside of Put, which seeds files for local runs and tests.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Put(ctx context.Context, file *models.File, key []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, policy, owner_id, wrapped_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET policy = EXCLUDED.policy, wrapped_key = EXCLUDED.wrapped_key
	`, file.ID.String(), file.Policy, uuid.UUID(file.OwnerID), key, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, fileID id.FileID) (*models.File, error) {
	var (
		file    models.File
		rawID   string
		ownerID uuid.UUID
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, policy, owner_id, created_at FROM files WHERE id = $1`,
		fileID.String(),
	).Scan(&rawID, &file.Policy, &ownerID, &file.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file: %w", err)
	}
	file.ID = id.FileID(rawID)
	file.OwnerID = id.UserID(ownerID)
	return &file, nil
}

func (s *Store) KeyMaterial(ctx context.Context, fileID id.FileID) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT wrapped_key FROM files WHERE id = $1`,
		fileID.String(),
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select key material: %w", err)
	}
	return key, nil
}
