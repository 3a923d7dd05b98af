package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"keygate/internal/ratelimit/models"
)

var testLimit = models.Limit{Requests: 3, Window: time.Minute}

type MemoryLimiterSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	now   time.Time
}

func TestMemoryLimiterSuite(t *testing.T) {
	suite.Run(t, new(MemoryLimiterSuite))
}

func (s *MemoryLimiterSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	s.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *MemoryLimiterSuite) TestAllow() {
	s.Run("requests up to the limit are allowed", func() {
		var res *models.Result
		for i := range testLimit.Requests {
			var err error
			res, err = s.store.Allow(s.ctx, "k:up-to", testLimit, s.now.Add(time.Duration(i)*time.Second))
			s.Require().NoError(err)
			s.True(res.Allowed)
		}
		s.Equal(0, res.Remaining)
		s.Equal(testLimit.Requests, res.Limit)
	})

	s.Run("request over the limit is denied with retry hint", func() {
		for range testLimit.Requests {
			_, err := s.store.Allow(s.ctx, "k:over", testLimit, s.now)
			s.Require().NoError(err)
		}
		res, err := s.store.Allow(s.ctx, "k:over", testLimit, s.now.Add(20*time.Second))
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(40, res.RetryAfter)
		s.Equal(s.now.Add(time.Minute), res.ResetAt)
	})

	s.Run("window slides", func() {
		for range testLimit.Requests {
			_, err := s.store.Allow(s.ctx, "k:slide", testLimit, s.now)
			s.Require().NoError(err)
		}
		res, err := s.store.Allow(s.ctx, "k:slide", testLimit, s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("keys are independent", func() {
		for range testLimit.Requests {
			_, err := s.store.Allow(s.ctx, "k:a", testLimit, s.now)
			s.Require().NoError(err)
		}
		res, err := s.store.Allow(s.ctx, "k:b", testLimit, s.now)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *MemoryLimiterSuite) TestConcurrentCallersNeverExceedLimit() {
	limit := models.Limit{Requests: 10, Window: time.Minute}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(s.ctx, "k:concurrent", limit, s.now)
			s.NoError(err)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(limit.Requests, allowed)
}

func (s *MemoryLimiterSuite) TestSweep() {
	_, err := s.store.Allow(s.ctx, "k:old", testLimit, s.now)
	s.Require().NoError(err)
	_, err = s.store.Allow(s.ctx, "k:fresh", testLimit, s.now.Add(50*time.Second))
	s.Require().NoError(err)

	s.Equal(1, s.store.Sweep(s.now.Add(70*time.Second)))
	s.Len(s.store.buckets, 1)
}

func TestKeyEscapesDelimiters(t *testing.T) {
	if got := models.Key(models.ClassSensitive, "user:admin"); got != "ratelimit:sensitive:user_admin" {
		t.Fatalf("unexpected key %q", got)
	}
}
