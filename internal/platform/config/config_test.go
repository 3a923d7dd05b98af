package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Len(t, cfg.Quorum.Authorities, 7)
	assert.Equal(t, 4, cfg.Quorum.Threshold)
	assert.Equal(t, time.Hour, cfg.Requests.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Requests.TicketTTL)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Backend)
	assert.False(t, cfg.SimulateApprovals)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("KEYGATE_AUTHORITIES", "0x8d4d6c34EDEA4E1eb2fc2423D6A091cdCB34DB48, 0xfbe684383F81045249eB1E5974415f484E6F9f21")
	t.Setenv("KEYGATE_THRESHOLD", "2")
	t.Setenv("KEYGATE_SIMULATE_APPROVALS", "true")
	t.Setenv("KEYGATE_OPS_TOKEN", "ops-secret")
	t.Setenv("KEYGATE_REQUEST_TTL", "30m")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Len(t, cfg.Quorum.Authorities, 2)
	assert.Equal(t, 2, cfg.Quorum.Threshold)
	assert.True(t, cfg.SimulateApprovals)
	assert.Equal(t, "ops-secret", cfg.OpsToken)
	assert.Equal(t, 30*time.Minute, cfg.Requests.TTL)
}

func TestFromEnv_SimulationNeedsOpsToken(t *testing.T) {
	t.Setenv("KEYGATE_SIMULATE_APPROVALS", "true")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "KEYGATE_OPS_TOKEN")

	t.Setenv("KEYGATE_OPS_TOKEN", "ops-secret")
	_, err = FromEnv()
	assert.NoError(t, err)
}

func TestFromEnv_RejectsInvalidQuorum(t *testing.T) {
	t.Run("threshold above roster size", func(t *testing.T) {
		t.Setenv("KEYGATE_THRESHOLD", "8")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "out of range")
	})

	t.Run("zero threshold", func(t *testing.T) {
		t.Setenv("KEYGATE_THRESHOLD", "0")
		_, err := FromEnv()
		assert.Error(t, err)
	})

	t.Run("malformed number", func(t *testing.T) {
		t.Setenv("KEYGATE_THRESHOLD", "four")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "KEYGATE_THRESHOLD")
	})
}

func TestFromEnv_BackendRequirements(t *testing.T) {
	t.Setenv("KEYGATE_LEDGER_BACKEND", "redis")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("KEYGATE_LEDGER_BACKEND", "etcd")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "unknown ledger backend")
}

func TestFromEnv_RateLimit(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.Sensitive)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)

	t.Run("zero quota rejected while enabled", func(t *testing.T) {
		t.Setenv("KEYGATE_RATELIMIT_SENSITIVE", "0")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "rate limit")
	})

	t.Run("zero quota accepted when disabled", func(t *testing.T) {
		t.Setenv("KEYGATE_RATELIMIT_ENABLED", "false")
		t.Setenv("KEYGATE_RATELIMIT_SENSITIVE", "0")
		_, err := FromEnv()
		assert.NoError(t, err)
	})
}
