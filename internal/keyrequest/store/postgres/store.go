package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"keygate/internal/keyrequest/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
	txcontext "keygate/pkg/platform/tx"
)

const uniqueViolation = "23505"

const selectColumns = `
	key_id, file_id, requester_id, attributes, registry_version, state,
	approval_count, approved, consumed, reject_reason,
	created_at, expires_at, approved_at, released_at`

// Store persists key requests in PostgreSQL. Execute runs validate and
// mutate against a row locked with SELECT ... FOR UPDATE.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, req *models.KeyRequest) error {
	attributes := req.Attributes
	if attributes == nil {
		attributes = []string{}
	}
	_, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO key_requests (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		req.KeyID.String(),
		req.FileID.String(),
		uuid.UUID(req.RequesterID),
		pq.Array(attributes),
		req.RegistryVersion,
		string(req.State),
		req.ApprovalCount,
		req.Approved,
		req.Consumed,
		req.RejectReason,
		req.CreatedAt,
		req.ExpiresAt,
		req.ApprovedAt,
		req.ReleasedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("key request %s: %w", req.KeyID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert key request: %w", err)
	}
	return nil
}

func (s *Store) FindByKeyID(ctx context.Context, keyID id.KeyID) (*models.KeyRequest, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM key_requests WHERE key_id = $1`,
		keyID.String(),
	)
	return scanRequest(row)
}

func (s *Store) ListByRequester(ctx context.Context, userID id.UserID) ([]*models.KeyRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM key_requests WHERE requester_id = $1 ORDER BY created_at DESC`,
		uuid.UUID(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("query key requests: %w", err)
	}
	defer rows.Close()

	var out []*models.KeyRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key requests: %w", err)
	}
	return out, nil
}

func (s *Store) Execute(ctx context.Context, keyID id.KeyID, validate func(*models.KeyRequest) error, mutate func(*models.KeyRequest)) (*models.KeyRequest, error) {
	var (
		result      *models.KeyRequest
		validateErr error
	)
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Execer(ctx, s.db)
		req, err := scanRequest(exec.QueryRowContext(ctx,
			`SELECT `+selectColumns+` FROM key_requests WHERE key_id = $1 FOR UPDATE`,
			keyID.String(),
		))
		if err != nil {
			return err
		}
		if validateErr = validate(req); validateErr != nil {
			result = req
			return nil
		}
		mutate(req)
		_, err = exec.ExecContext(ctx, `
			UPDATE key_requests
			SET state = $2, approval_count = $3, approved = $4, consumed = $5,
			    reject_reason = $6, approved_at = $7, released_at = $8
			WHERE key_id = $1
		`,
			keyID.String(),
			string(req.State),
			req.ApprovalCount,
			req.Approved,
			req.Consumed,
			req.RejectReason,
			req.ApprovedAt,
			req.ReleasedAt,
		)
		if err != nil {
			return fmt.Errorf("update key request: %w", err)
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, validateErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.KeyRequest, error) {
	var (
		req         models.KeyRequest
		rawKeyID    string
		rawFileID   string
		requesterID uuid.UUID
		state       string
		approvedAt  sql.NullTime
		releasedAt  sql.NullTime
	)
	err := row.Scan(
		&rawKeyID,
		&rawFileID,
		&requesterID,
		pq.Array(&req.Attributes),
		&req.RegistryVersion,
		&state,
		&req.ApprovalCount,
		&req.Approved,
		&req.Consumed,
		&req.RejectReason,
		&req.CreatedAt,
		&req.ExpiresAt,
		&approvedAt,
		&releasedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key request not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan key request: %w", err)
	}
	keyID, err := id.ParseKeyID(rawKeyID)
	if err != nil {
		return nil, fmt.Errorf("decode key id: %w", err)
	}
	req.KeyID = keyID
	req.FileID = id.FileID(rawFileID)
	req.RequesterID = id.UserID(requesterID)
	req.State = models.State(state)
	if approvedAt.Valid {
		t := approvedAt.Time
		req.ApprovedAt = &t
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		req.ReleasedAt = &t
	}
	return &req, nil
}
