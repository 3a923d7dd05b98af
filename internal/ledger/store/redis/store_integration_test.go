//go:build integration

package redis_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	ledgerredis "keygate/internal/ledger/store/redis"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
	"keygate/pkg/testutil/containers"
)

type RedisLedgerSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ledgerredis.Store
}

func TestRedisLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLedgerSuite))
}

func (s *RedisLedgerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ledgerredis.New(s.redis.Client)
}

func (s *RedisLedgerSuite) SetupTest() {
	s.Require().NoError(s.redis.DeletePrefix(context.Background(), "ledger:"))
}

func authority(b byte) id.Address {
	var a id.Address
	a[19] = b
	return a
}

func (s *RedisLedgerSuite) TestLifecycle() {
	ctx := context.Background()
	key, err := id.NewKeyID()
	s.Require().NoError(err)

	_, _, err = s.store.AddApproval(ctx, key, authority(1))
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Register(ctx, key, 2))
	s.ErrorIs(s.store.Register(ctx, key, 2), sentinel.ErrConflict)

	entry, added, err := s.store.AddApproval(ctx, key, authority(1))
	s.Require().NoError(err)
	s.True(added)
	s.False(entry.Approved)

	entry, added, err = s.store.AddApproval(ctx, key, authority(1))
	s.Require().NoError(err)
	s.False(added)
	s.Equal(1, entry.Count())

	entry, added, err = s.store.AddApproval(ctx, key, authority(2))
	s.Require().NoError(err)
	s.True(added)
	s.True(entry.Approved)

	stored, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(2, stored.Threshold)
	s.True(stored.Approved)
	s.ElementsMatch([]id.Address{authority(1), authority(2)}, stored.Approvers)
	s.False(stored.RegisteredAt.IsZero())
}

func (s *RedisLedgerSuite) TestGetUnknownKey() {
	key, err := id.NewKeyID()
	s.Require().NoError(err)
	_, err = s.store.Get(context.Background(), key)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisLedgerSuite) TestConcurrentApprovalsCountOnce() {
	ctx := context.Background()
	key, err := id.NewKeyID()
	s.Require().NoError(err)
	s.Require().NoError(s.store.Register(ctx, key, 4))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for round := 0; round < 5; round++ {
		for a := byte(1); a <= 7; a++ {
			wg.Add(1)
			go func(a byte) {
				defer wg.Done()
				_, ok, err := s.store.AddApproval(ctx, key, authority(a))
				s.NoError(err)
				if ok {
					mu.Lock()
					added++
					mu.Unlock()
				}
			}(a)
		}
	}
	wg.Wait()

	s.Equal(7, added)
	entry, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(7, entry.Count())
	s.True(entry.Approved)
}
