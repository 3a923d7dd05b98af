package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"keygate/internal/ledger/models"
	id "keygate/pkg/domain"
	"keygate/pkg/platform/sentinel"
)

var addApprovalDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "keygate_ledger_redis_add_approval_duration_ms",
	Help:    "Latency of the atomic add-approval script in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Both keys of an entry share a hash tag so the scripts stay single-slot.
func metaKey(keyID id.KeyID) string      { return "ledger:{" + keyID.String() + "}:meta" }
func approversKey(keyID id.KeyID) string { return "ledger:{" + keyID.String() + "}:approvers" }

var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'threshold', ARGV[1], 'approved', '0', 'registered_at', ARGV[2])
return 1
`)

// addApprovalScript returns {added, threshold, approved, registered_at, members}
// or {-1} when the key was never registered.
var addApprovalScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local added = redis.call('SADD', KEYS[2], ARGV[1])
local count = redis.call('SCARD', KEYS[2])
local threshold = tonumber(redis.call('HGET', KEYS[1], 'threshold'))
if count >= threshold then
  redis.call('HSET', KEYS[1], 'approved', '1')
end
return {
  added,
  threshold,
  redis.call('HGET', KEYS[1], 'approved'),
  redis.call('HGET', KEYS[1], 'registered_at'),
  redis.call('SMEMBERS', KEYS[2])
}
`)

// Store keeps ledger entries in Redis. Every mutation runs as a Lua script,
// which Redis executes atomically.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Register(ctx context.Context, keyID id.KeyID, threshold int) error {
	created, err := registerScript.Run(ctx, s.client,
		[]string{metaKey(keyID)},
		threshold, strconv.FormatInt(time.Now().UnixNano(), 10),
	).Int()
	if err != nil {
		return fmt.Errorf("register ledger entry: %w", err)
	}
	if created == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) AddApproval(ctx context.Context, keyID id.KeyID, authority id.Address) (*models.Entry, bool, error) {
	start := time.Now()
	defer func() {
		addApprovalDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	res, err := addApprovalScript.Run(ctx, s.client,
		[]string{metaKey(keyID), approversKey(keyID)},
		authority.String(),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("add approval: %w", err)
	}
	if len(res) == 1 {
		return nil, false, sentinel.ErrNotFound
	}
	if len(res) != 5 {
		return nil, false, fmt.Errorf("add approval: unexpected script reply of %d elements", len(res))
	}

	added, _ := res[0].(int64)
	threshold, _ := res[1].(int64)
	approved, _ := res[2].(string)
	registeredAt, _ := res[3].(string)
	members, _ := res[4].([]any)

	entry, err := buildEntry(keyID, int(threshold), approved, registeredAt, toStrings(members))
	if err != nil {
		return nil, false, err
	}
	return entry, added == 1, nil
}

func (s *Store) Get(ctx context.Context, keyID id.KeyID) (*models.Entry, error) {
	var (
		metaCmd    *redis.MapStringStringCmd
		membersCmd *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, metaKey(keyID))
		membersCmd = pipe.SMembers(ctx, approversKey(keyID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read ledger entry: %w", err)
	}
	meta := metaCmd.Val()
	if len(meta) == 0 {
		return nil, sentinel.ErrNotFound
	}
	threshold, err := strconv.Atoi(meta["threshold"])
	if err != nil {
		return nil, fmt.Errorf("parse ledger threshold: %w", err)
	}
	return buildEntry(keyID, threshold, meta["approved"], meta["registered_at"], membersCmd.Val())
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func buildEntry(keyID id.KeyID, threshold int, approved, registeredAt string, members []string) (*models.Entry, error) {
	entry := &models.Entry{
		KeyID:     keyID,
		Threshold: threshold,
		Approved:  approved == "1",
		Approvers: make([]id.Address, 0, len(members)),
	}
	if ns, err := strconv.ParseInt(registeredAt, 10, 64); err == nil {
		entry.RegisteredAt = time.Unix(0, ns)
	}
	for _, m := range members {
		addr, err := id.ParseAddress(m)
		if err != nil {
			return nil, fmt.Errorf("decode approver %q: %w", m, err)
		}
		entry.Approvers = append(entry.Approvers, addr)
	}
	return entry, nil
}

func toStrings(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
