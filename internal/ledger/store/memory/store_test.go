package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
}

func (s *MemoryStoreSuite) newKey() id.KeyID {
	k, err := id.NewKeyID()
	s.Require().NoError(err)
	return k
}

func authority(b byte) id.Address {
	var a id.Address
	a[19] = b
	return a
}

func (s *MemoryStoreSuite) TestRegister() {
	ctx := context.Background()

	s.Run("registers a new key with zero approvals", func() {
		key := s.newKey()
		s.Require().NoError(s.store.Register(ctx, key, 2))

		entry, err := s.store.Get(ctx, key)
		s.Require().NoError(err)
		s.Equal(2, entry.Threshold)
		s.Equal(0, entry.Count())
		s.False(entry.Approved)
	})

	s.Run("second registration conflicts", func() {
		key := s.newKey()
		s.Require().NoError(s.store.Register(ctx, key, 2))
		s.ErrorIs(s.store.Register(ctx, key, 2), sentinel.ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestAddApproval() {
	ctx := context.Background()

	s.Run("unknown key returns ErrNotFound", func() {
		_, _, err := s.store.AddApproval(ctx, s.newKey(), authority(1))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate approval is not added twice", func() {
		key := s.newKey()
		s.Require().NoError(s.store.Register(ctx, key, 2))

		_, added, err := s.store.AddApproval(ctx, key, authority(1))
		s.Require().NoError(err)
		s.True(added)

		entry, added, err := s.store.AddApproval(ctx, key, authority(1))
		s.Require().NoError(err)
		s.False(added)
		s.Equal(1, entry.Count())
		s.False(entry.Approved)
	})

	s.Run("approved flips on the threshold approval", func() {
		key := s.newKey()
		s.Require().NoError(s.store.Register(ctx, key, 2))

		entry, _, err := s.store.AddApproval(ctx, key, authority(1))
		s.Require().NoError(err)
		s.False(entry.Approved)

		entry, _, err = s.store.AddApproval(ctx, key, authority(2))
		s.Require().NoError(err)
		s.True(entry.Approved)
		s.Equal(2, entry.Count())
	})

	s.Run("returned entries are copies", func() {
		key := s.newKey()
		s.Require().NoError(s.store.Register(ctx, key, 3))
		entry, _, err := s.store.AddApproval(ctx, key, authority(1))
		s.Require().NoError(err)
		entry.Approvers[0] = authority(9)

		stored, err := s.store.Get(ctx, key)
		s.Require().NoError(err)
		s.Equal(authority(1), stored.Approvers[0])
	})
}

func (s *MemoryStoreSuite) TestConcurrentApprovalsConverge() {
	ctx := context.Background()
	key := s.newKey()
	s.Require().NoError(s.store.Register(ctx, key, 4))

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for a := byte(1); a <= 7; a++ {
			wg.Add(1)
			go func(a byte) {
				defer wg.Done()
				_, _, err := s.store.AddApproval(ctx, key, authority(a))
				s.NoError(err)
			}(a)
		}
	}
	wg.Wait()

	entry, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(7, entry.Count())
	s.True(entry.Approved)
}

func (s *MemoryStoreSuite) TestShardSelectionIsFNV1a() {
	var zero, seq id.KeyID
	for i := range seq {
		seq[i] = byte(i)
	}
	s.Equal(uint32(0x0b2ae445), hashKey(zero))
	s.Equal(uint32(0x0913ad65), hashKey(seq))
	s.Same(&s.store.shards[69], s.store.shardFor(zero))
	s.Same(&s.store.shards[101], s.store.shardFor(seq))
}
