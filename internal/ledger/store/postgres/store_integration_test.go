//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	ledgerpg "keygate/internal/ledger/store/postgres"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
	"keygate/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledgerpg.Store
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = ledgerpg.New(s.postgres.Pool)
}

func (s *PostgresLedgerSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "ledger_approvals", "ledger_keys")
	s.Require().NoError(err)
}

func authority(b byte) id.Address {
	var a id.Address
	a[19] = b
	return a
}

func (s *PostgresLedgerSuite) TestLifecycle() {
	ctx := context.Background()
	key, err := id.NewKeyID()
	s.Require().NoError(err)

	_, _, err = s.store.AddApproval(ctx, key, authority(1))
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Register(ctx, key, 2))
	s.ErrorIs(s.store.Register(ctx, key, 2), sentinel.ErrConflict)

	_, added, err := s.store.AddApproval(ctx, key, authority(1))
	s.Require().NoError(err)
	s.True(added)

	entry, added, err := s.store.AddApproval(ctx, key, authority(1))
	s.Require().NoError(err)
	s.False(added)
	s.Equal(1, entry.Count())
	s.False(entry.Approved)

	entry, added, err = s.store.AddApproval(ctx, key, authority(2))
	s.Require().NoError(err)
	s.True(added)
	s.True(entry.Approved)

	stored, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.ElementsMatch([]id.Address{authority(1), authority(2)}, stored.Approvers)
}

func (s *PostgresLedgerSuite) TestConcurrentApprovalsCountOnce() {
	ctx := context.Background()
	key, err := id.NewKeyID()
	s.Require().NoError(err)
	s.Require().NoError(s.store.Register(ctx, key, 4))

	var (
		wg    sync.WaitGroup
		added atomic.Int32
	)
	for round := 0; round < 3; round++ {
		for a := byte(1); a <= 7; a++ {
			wg.Add(1)
			go func(a byte) {
				defer wg.Done()
				_, ok, err := s.store.AddApproval(ctx, key, authority(a))
				s.NoError(err)
				if ok {
					added.Add(1)
				}
			}(a)
		}
	}
	wg.Wait()

	s.Equal(int32(7), added.Load())
	entry, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(7, entry.Count())
	s.True(entry.Approved)

	var count int
	err = s.postgres.DB.QueryRowContext(ctx,
		`SELECT approval_count FROM ledger_keys WHERE key_id = $1`, key.String()).Scan(&count)
	s.Require().NoError(err)
	s.Equal(7, count)
}
