package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/release/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

func ticket(ttl time.Duration) *models.Ticket {
	now := time.Now()
	return &models.Ticket{
		ID:        uuid.NewString(),
		FileID:    "q3-report",
		UserID:    id.UserID(uuid.New()),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestTicketStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := New()
	tk := ticket(time.Minute)
	require.NoError(t, store.Save(ctx, tk))
	require.ErrorIs(t, store.Save(ctx, tk), sentinel.ErrConflict)

	got, err := store.Consume(ctx, tk.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, tk.UserID, got.UserID)

	_, err = store.Consume(ctx, tk.ID, time.Now())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestTicketStore_ExpiredTicketIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := New()
	tk := ticket(time.Minute)
	require.NoError(t, store.Save(ctx, tk))

	_, err := store.Consume(ctx, tk.ID, time.Now().Add(2*time.Minute))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestTicketStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := New()
	live := ticket(time.Hour)
	require.NoError(t, store.Save(ctx, live))
	require.NoError(t, store.Save(ctx, ticket(time.Second)))

	deleted, err := store.DeleteExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Consume(ctx, live.ID, time.Now())
	assert.NoError(t, err)
}

func TestTicketStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := New()
	tk := ticket(time.Minute)
	require.NoError(t, store.Save(ctx, tk))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, tk.ID, time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
