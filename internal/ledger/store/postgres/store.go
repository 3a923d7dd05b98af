package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"keygate/internal/ledger/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// Store persists the ledger in PostgreSQL. AddApproval locks the key row so
// concurrent approvals for one key serialize, and the composite primary key
// on ledger_approvals keeps one row per authority.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Register(ctx context.Context, keyID id.KeyID, threshold int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_keys (key_id, threshold) VALUES ($1, $2)`,
		keyID.String(), threshold,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert ledger key: %w", err)
	}
	return nil
}

func (s *Store) AddApproval(ctx context.Context, keyID id.KeyID, authority id.Address) (*models.Entry, bool, error) {
	var (
		entry *models.Entry
		added bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var threshold int
		err := tx.QueryRow(ctx,
			`SELECT threshold FROM ledger_keys WHERE key_id = $1 FOR UPDATE`,
			keyID.String(),
		).Scan(&threshold)
		if errors.Is(err, pgx.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock ledger key: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO ledger_approvals (key_id, authority) VALUES ($1, $2)
			 ON CONFLICT (key_id, authority) DO NOTHING`,
			keyID.String(), authority.String(),
		)
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		added = tag.RowsAffected() == 1

		if added {
			_, err = tx.Exec(ctx,
				`UPDATE ledger_keys
				 SET approval_count = approval_count + 1,
				     approved = approved OR approval_count + 1 >= threshold
				 WHERE key_id = $1`,
				keyID.String(),
			)
			if err != nil {
				return fmt.Errorf("update approval count: %w", err)
			}
		}

		entry, err = load(ctx, tx, keyID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entry, added, nil
}

func (s *Store) Get(ctx context.Context, keyID id.KeyID) (*models.Entry, error) {
	return load(ctx, s.pool, keyID)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func load(ctx context.Context, q querier, keyID id.KeyID) (*models.Entry, error) {
	entry := &models.Entry{KeyID: keyID}
	err := q.QueryRow(ctx,
		`SELECT threshold, approved, registered_at FROM ledger_keys WHERE key_id = $1`,
		keyID.String(),
	).Scan(&entry.Threshold, &entry.Approved, &entry.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ledger key: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT authority FROM ledger_approvals WHERE key_id = $1 ORDER BY approved_at, authority`,
		keyID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select approvals: %w", err)
	}
	authorities, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan approvals: %w", err)
	}
	for _, raw := range authorities {
		addr, err := id.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("decode approver %q: %w", raw, err)
		}
		entry.Approvers = append(entry.Approvers, addr)
	}
	return entry, nil
}
