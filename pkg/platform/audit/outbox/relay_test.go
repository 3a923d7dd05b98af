package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	auditpg "keygate/pkg/platform/audit/store/postgres"
)

type fakeSource struct {
	mu        sync.Mutex
	entries   []auditpg.Entry
	published map[uuid.UUID]bool
}

func (f *fakeSource) FetchUnpublished(_ context.Context, limit int) ([]auditpg.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auditpg.Entry
	for _, e := range f.entries {
		if !f.published[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.published[id] = true
	}
	return nil
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newSource(n int) *fakeSource {
	src := &fakeSource{published: map[uuid.UUID]bool{}}
	for i := 0; i < n; i++ {
		src.entries = append(src.entries, auditpg.Entry{
			ID:          uuid.New(),
			AggregateID: "0xabc",
			EventType:   "key_released",
			Payload:     []byte(`{"action":"key_released"}`),
			CreatedAt:   time.Now(),
		})
	}
	return src
}

func TestRelayOnce_PublishesAndMarks(t *testing.T) {
	src := newSource(3)
	prod := &fakeProducer{}
	relay := NewRelay(src, prod, noTx, "keygate.audit", WithBatchSize(2))

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, prod.records, 3)
	rec := prod.records[0]
	assert.Equal(t, "keygate.audit", rec.Topic)
	assert.Equal(t, []byte("0xabc"), rec.Key)
	assert.Equal(t, "event_id", rec.Headers[0].Key)
}

func TestRelayOnce_ProduceFailureLeavesRowsUnpublished(t *testing.T) {
	src := newSource(2)
	prod := &fakeProducer{err: errors.New("broker down")}
	relay := NewRelay(src, prod, noTx, "keygate.audit")

	_, err := relay.RelayOnce(context.Background())
	require.ErrorContains(t, err, "broker down")
	assert.Empty(t, src.published)

	prod.err = nil
	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := newSource(1)
	prod := &fakeProducer{}
	relay := NewRelay(src, prod, noTx, "keygate.audit", WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.published) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
