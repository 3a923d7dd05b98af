//go:build integration

package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"keygate/internal/release/models"
	ticketredis "keygate/internal/release/store/redis"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
	"keygate/pkg/testutil/containers"
)

type RedisTicketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ticketredis.TicketStore
}

func TestRedisTicketSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTicketSuite))
}

func (s *RedisTicketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ticketredis.New(s.redis.Client)
}

func (s *RedisTicketSuite) SetupTest() {
	s.Require().NoError(s.redis.DeletePrefix(context.Background(), "ticket:"))
}

func (s *RedisTicketSuite) newTicket(ttl time.Duration) *models.Ticket {
	keyID, err := id.NewKeyID()
	s.Require().NoError(err)
	var signer id.Address
	signer[0] = 0xab
	now := time.Now().UTC()
	return &models.Ticket{
		ID:        uuid.NewString(),
		KeyID:     keyID,
		FileID:    "q3-report",
		UserID:    id.UserID(uuid.New()),
		Signer:    signer,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s *RedisTicketSuite) TestSaveAndConsume() {
	ctx := context.Background()
	tk := s.newTicket(time.Minute)
	s.Require().NoError(s.store.Save(ctx, tk))

	s.Run("duplicate id conflicts", func() {
		s.ErrorIs(s.store.Save(ctx, tk), sentinel.ErrConflict)
	})

	s.Run("consume round trips the bindings", func() {
		got, err := s.store.Consume(ctx, tk.ID, time.Now())
		s.Require().NoError(err)
		s.True(got.Matches(tk.KeyID, tk.FileID, tk.UserID))
		s.Equal(tk.Signer, got.Signer)
	})

	s.Run("second consume finds nothing", func() {
		_, err := s.store.Consume(ctx, tk.ID, time.Now())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisTicketSuite) TestTicketExpiresWithTTL() {
	ctx := context.Background()
	tk := s.newTicket(time.Second)
	s.Require().NoError(s.store.Save(ctx, tk))

	ttl, err := s.redis.Client.TTL(ctx, "ticket:"+tk.ID).Result()
	s.Require().NoError(err)
	s.Positive(ttl)
	s.LessOrEqual(ttl, time.Second)
}

func (s *RedisTicketSuite) TestConcurrentConsume() {
	ctx := context.Background()
	tk := s.newTicket(time.Minute)
	s.Require().NoError(s.store.Save(ctx, tk))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Consume(ctx, tk.ID, time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
