package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pkgstrings "keygate/pkg/platform/strings"
)

// DefaultAuthorities is the demo roster of seven approval authorities.
var DefaultAuthorities = []string{
	"0x8d4d6c34EDEA4E1eb2fc2423D6A091cdCB34DB48",
	"0xfbe684383F81045249eB1E5974415f484E6F9f21",
	"0xd2A2E096ef8313db712DFaB39F40229F17Fd3f94",
	"0x57D14fF746d33127a90d4B888D378487e2C69f1f",
	"0x0e852C955e5DBF7187Ec6ed7A3B131165C63cf9a",
	"0x211Db7b2b475E9282B31Bd0fF39220805505Ff71",
	"0x7FAdEAa4442bc60678ee16E401Ed80342aC24d16",
}

const DefaultThreshold = 4

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

// Server captures process level configuration.
type Server struct {
	Addr     string
	LogLevel string

	SessionSigningKey string
	SessionIssuer     string
	SessionAudience   string

	Quorum   QuorumConfig
	Requests RequestConfig
	Ledger   LedgerConfig

	RateLimit RateLimitConfig

	SimulateApprovals bool
	OpsToken          string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// QuorumConfig is read once at provisioning time.
type QuorumConfig struct {
	Version     int
	Authorities []string
	Threshold   int
}

type RequestConfig struct {
	TTL       time.Duration
	TicketTTL time.Duration
}

type LedgerConfig struct {
	Backend string
	Retries int
	Backoff time.Duration
}

// RedisConfig holds connection settings for go-redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig sets per-caller quotas. Sensitive covers signature
// verification and release.
type RateLimitConfig struct {
	Enabled   bool
	Sensitive int
	Standard  int
	Window    time.Duration
}

type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	PollInterval time.Duration
	BatchSize    int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:              getEnv("KEYGATE_ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SessionSigningKey: getEnv("SESSION_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SessionIssuer:     getEnv("SESSION_ISSUER", "keygate-accounts"),
		SessionAudience:   getEnv("SESSION_AUDIENCE", "keygate"),
		OpsToken:          os.Getenv("KEYGATE_OPS_TOKEN"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Quorum: QuorumConfig{
			Authorities: DefaultAuthorities,
		},
		Ledger: LedgerConfig{
			Backend: strings.ToLower(getEnv("KEYGATE_LEDGER_BACKEND", LedgerMemory)),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			AuditTopic: getEnv("KEYGATE_AUDIT_TOPIC", "keygate.audit"),
		},
	}

	var err error
	if raw := os.Getenv("KEYGATE_AUTHORITIES"); raw != "" {
		cfg.Quorum.Authorities = pkgstrings.SplitList(raw, ",")
	}
	if cfg.Quorum.Threshold, err = getInt("KEYGATE_THRESHOLD", DefaultThreshold); err != nil {
		return Server{}, err
	}
	if cfg.Quorum.Version, err = getInt("KEYGATE_REGISTRY_VERSION", 1); err != nil {
		return Server{}, err
	}
	if cfg.Requests.TTL, err = getDuration("KEYGATE_REQUEST_TTL", time.Hour); err != nil {
		return Server{}, err
	}
	if cfg.Requests.TicketTTL, err = getDuration("KEYGATE_TICKET_TTL", 2*time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Ledger.Retries, err = getInt("KEYGATE_LEDGER_RETRIES", 3); err != nil {
		return Server{}, err
	}
	if cfg.Ledger.Backoff, err = getDuration("KEYGATE_LEDGER_BACKOFF", 100*time.Millisecond); err != nil {
		return Server{}, err
	}
	if cfg.SimulateApprovals, err = getBool("KEYGATE_SIMULATE_APPROVALS", false); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Enabled, err = getBool("KEYGATE_RATELIMIT_ENABLED", true); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Sensitive, err = getInt("KEYGATE_RATELIMIT_SENSITIVE", 10); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Standard, err = getInt("KEYGATE_RATELIMIT_STANDARD", 120); err != nil {
		return Server{}, err
	}
	if cfg.RateLimit.Window, err = getDuration("KEYGATE_RATELIMIT_WINDOW", time.Minute); err != nil {
		return Server{}, err
	}
	if cfg.Redis.PoolSize, err = getInt("REDIS_POOL_SIZE", 10); err != nil {
		return Server{}, err
	}
	if cfg.Redis.MinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Server{}, err
	}
	if cfg.Redis.DialTimeout, err = getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.ReadTimeout, err = getDuration("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Redis.WriteTimeout, err = getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Server{}, err
	}
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.Kafka.Brokers = pkgstrings.SplitList(raw, ",")
	}
	if cfg.Kafka.PollInterval, err = getDuration("KEYGATE_OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Kafka.BatchSize, err = getInt("KEYGATE_OUTBOX_BATCH_SIZE", 100); err != nil {
		return Server{}, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the service cannot start with.
func (c Server) Validate() error {
	n := len(c.Quorum.Authorities)
	if n == 0 {
		return fmt.Errorf("at least one authority is required")
	}
	if c.Quorum.Threshold < 1 || c.Quorum.Threshold > n {
		return fmt.Errorf("threshold %d out of range 1..%d", c.Quorum.Threshold, n)
	}
	if c.Requests.TTL <= 0 || c.Requests.TicketTTL <= 0 {
		return fmt.Errorf("request and ticket TTLs must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Sensitive < 1 || c.RateLimit.Standard < 1 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit quotas and window must be positive")
	}
	if c.Ledger.Retries < 1 {
		return fmt.Errorf("KEYGATE_LEDGER_RETRIES must be at least 1")
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis ledger backend")
		}
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres ledger backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.SimulateApprovals && c.OpsToken == "" {
		return fmt.Errorf("KEYGATE_OPS_TOKEN is required when KEYGATE_SIMULATE_APPROVALS is enabled")
	}
	if len(c.Kafka.Brokers) > 0 && c.DatabaseURL == "" {
		return fmt.Errorf("KAFKA_BROKERS requires DATABASE_URL for the audit outbox")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
