package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one recorded outcome and the expected state afterwards.
type step struct {
	fail     bool
	degraded bool // RecordFailure: take the degraded path; RecordSuccess: primary not yet healthy
	opened   bool
	closed   bool
	open     bool
}

func TestBreaker_Sequences(t *testing.T) {
	cases := []struct {
		name  string
		opts  []Option
		steps []step
	}{
		{
			name: "opens on the threshold failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{fail: true, degraded: true, opened: true, open: true},
				{fail: true, degraded: true, open: true},
			},
		},
		{
			name: "success while closed clears the failure streak",
			opts: []Option{WithFailureThreshold(2)},
			steps: []step{
				{fail: true},
				{},
				{fail: true},
				{fail: true, degraded: true, opened: true, open: true},
			},
		},
		{
			name: "closes after consecutive probe successes",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, degraded: true, opened: true, open: true},
				{degraded: true, open: true},
				{closed: true},
			},
		},
		{
			name: "failed probe restarts the recovery streak",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, degraded: true, opened: true, open: true},
				{degraded: true, open: true},
				{fail: true, degraded: true, open: true},
				{degraded: true, open: true},
				{closed: true},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New("ledger", tc.opts...)
			for i, s := range tc.steps {
				var (
					flag   bool
					change Change
				)
				if s.fail {
					flag, change = b.RecordFailure()
					assert.Equal(t, s.degraded, flag, "step %d degraded", i)
				} else {
					flag, change = b.RecordSuccess()
					assert.Equal(t, !s.degraded, flag, "step %d healthy", i)
				}
				assert.Equal(t, s.opened, change.Opened, "step %d opened", i)
				assert.Equal(t, s.closed, change.Closed, "step %d closed", i)
				assert.Equal(t, s.open, b.IsOpen(), "step %d open", i)
			}
		})
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("ledger")
	assert.Equal(t, "ledger", b.Name())
	assert.Equal(t, "closed", b.State().String())

	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("ledger", WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.True(t, b.IsOpen())
	assert.Equal(t, 1, opened)
}
