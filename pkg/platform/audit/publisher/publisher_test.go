package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "keygate/pkg/domain"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/audit/store/memory"
)

type PublisherSuite struct {
	suite.Suite
	store *memory.Store
	user  id.UserID
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.store = memory.New()
	s.user = id.UserID(uuid.New())
}

func (s *PublisherSuite) event(action audit.AuditEvent) audit.Event {
	return audit.Event{UserID: s.user, Subject: "0x01", Action: string(action)}
}

func (s *PublisherSuite) TestSyncEmitFillsTimestampAndCategory() {
	pub := NewPublisher(s.store)
	defer pub.Close()

	before := time.Now()
	s.Require().NoError(pub.Emit(context.Background(), s.event(audit.EventReleaseDenied)))

	events, err := pub.List(context.Background(), s.user)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.False(events[0].Timestamp.Before(before))
	s.Equal(audit.CategorySecurity, events[0].Category)
}

func (s *PublisherSuite) TestExplicitFieldsAreKept() {
	pub := NewPublisher(s.store)
	defer pub.Close()

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	e := s.event(audit.EventKeyReleased)
	e.Timestamp = at
	e.Category = audit.CategoryOperations
	s.Require().NoError(pub.Emit(context.Background(), e))

	events, err := pub.List(context.Background(), s.user)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(at, events[0].Timestamp)
	s.Equal(audit.CategoryOperations, events[0].Category)
}

func (s *PublisherSuite) TestLifecycleTrailKeepsOrder() {
	pub := NewPublisher(s.store)
	defer pub.Close()

	trail := []audit.AuditEvent{
		audit.EventKeyRequestCreated,
		audit.EventApprovalRecorded,
		audit.EventQuorumReached,
		audit.EventSignatureVerified,
		audit.EventKeyReleased,
	}
	for _, a := range trail {
		s.Require().NoError(pub.Emit(context.Background(), s.event(a)))
	}

	events, err := s.store.ListBySubject(context.Background(), "0x01")
	s.Require().NoError(err)
	s.Require().Len(events, len(trail))
	for i, a := range trail {
		s.Equal(string(a), events[i].Action)
	}
}

func (s *PublisherSuite) TestAsyncDrainsOnClose() {
	pub := NewPublisher(s.store, WithAsyncBuffer(64))
	for range 20 {
		s.Require().NoError(pub.Emit(context.Background(), s.event(audit.EventApprovalRecorded)))
	}
	pub.Close()
	pub.Close()

	events, err := s.store.ListByUser(context.Background(), s.user)
	s.Require().NoError(err)
	s.Len(events, 20)
}

// blockingStore holds Append until release is closed so the async buffer
// can be saturated deterministically.
type blockingStore struct {
	*memory.Store
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, e audit.Event) error {
	<-b.release
	return b.Store.Append(ctx, e)
}

func TestPublisher_AsyncBufferFull(t *testing.T) {
	store := &blockingStore{Store: memory.New(), release: make(chan struct{})}
	pub := NewPublisher(store, WithAsyncBuffer(1))

	ev := audit.Event{UserID: id.UserID(uuid.New()), Action: string(audit.EventApprovalRecorded)}

	// First event is taken by the drain goroutine, second fills the buffer.
	require.NoError(t, pub.Emit(context.Background(), ev))
	require.Eventually(t, func() bool {
		return pub.Emit(context.Background(), ev) == nil
	}, time.Second, time.Millisecond)

	err := pub.Emit(context.Background(), ev)
	assert.True(t, errors.Is(err, ErrBufferFull))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pub.Emit(ctx, ev)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrBufferFull))

	close(store.release)
	pub.Close()
	assert.Equal(t, 2, store.Len())
}
