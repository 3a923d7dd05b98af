package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"keygate/internal/ratelimit/models"
)

// Store is a per-process sliding-window limiter. Use the Redis store when
// several replicas must share quotas.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*window
}

type window struct {
	hits []time.Time
	size time.Duration
}

func New() *Store {
	return &Store{buckets: make(map[string]*window)}
}

func (s *Store) Allow(_ context.Context, key string, limit models.Limit, now time.Time) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.buckets[key]
	if w == nil {
		w = &window{size: limit.Window}
		s.buckets[key] = w
	}
	w.trim(now)

	if len(w.hits) >= limit.Requests {
		resetAt := w.hits[0].Add(w.size)
		return &models.Result{
			Allowed:    false,
			Limit:      limit.Requests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt.Sub(now)),
		}, nil
	}

	w.hits = append(w.hits, now)
	return &models.Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - len(w.hits),
		ResetAt:   w.hits[0].Add(w.size),
	}, nil
}

// Sweep drops buckets whose hits have all left the window.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, w := range s.buckets {
		w.trim(now)
		if len(w.hits) == 0 {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.size)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
}

func retryAfter(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
