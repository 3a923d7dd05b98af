package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	filemodels "keygate/internal/files/models"
	filememory "keygate/internal/files/store/memory"
	filepostgres "keygate/internal/files/store/postgres"
	keyrequesthandler "keygate/internal/keyrequest/handler"
	keyrequestmetrics "keygate/internal/keyrequest/metrics"
	keyrequestservice "keygate/internal/keyrequest/service"
	keyrequestmemory "keygate/internal/keyrequest/store/memory"
	keyrequestpostgres "keygate/internal/keyrequest/store/postgres"
	ledgermetrics "keygate/internal/ledger/metrics"
	ledgerservice "keygate/internal/ledger/service"
	ledgermemory "keygate/internal/ledger/store/memory"
	ledgerpostgres "keygate/internal/ledger/store/postgres"
	ledgerredis "keygate/internal/ledger/store/redis"
	"keygate/internal/platform/config"
	"keygate/internal/platform/httpserver"
	"keygate/internal/platform/logger"
	"keygate/internal/platform/metrics"
	"keygate/internal/platform/postgres"
	redisclient "keygate/internal/platform/redis"
	"keygate/internal/quorum"
	ratelimitmetrics "keygate/internal/ratelimit/metrics"
	ratelimitmw "keygate/internal/ratelimit/middleware"
	ratelimitmodels "keygate/internal/ratelimit/models"
	limitermemory "keygate/internal/ratelimit/store/memory"
	limiterredis "keygate/internal/ratelimit/store/redis"
	releasehandler "keygate/internal/release/handler"
	releasemetrics "keygate/internal/release/metrics"
	releaseservice "keygate/internal/release/service"
	ticketmemory "keygate/internal/release/store/memory"
	ticketredis "keygate/internal/release/store/redis"
	"keygate/internal/session"
	"keygate/internal/simulation"
	simulationhandler "keygate/internal/simulation/handler"
	httptransport "keygate/internal/transport/http"
	id "keygate/pkg/domain"
	audit "keygate/pkg/platform/audit"
	"keygate/pkg/platform/audit/outbox"
	"keygate/pkg/platform/audit/publisher"
	auditmemory "keygate/pkg/platform/audit/store/memory"
	auditpostgres "keygate/pkg/platform/audit/store/postgres"
	"keygate/pkg/platform/circuit"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

// demoFiles seed the in-memory catalog when no database is configured.
var demoFiles = []struct {
	id     id.FileID
	policy string
}{
	{"q3-report", "(role:manager OR role:admin) AND dept:IT AND clearance:high"},
	{"payroll-2024", "(role:admin OR role:manager) AND (dept:IT OR dept:Finance) AND clearance:high"},
	{"handbook", "role:worker OR role:manager OR role:admin"},
}

// main wires dependencies, mounts the router and runs the server and
// background workers until a shutdown signal arrives.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("keygate stopped", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	db    *sql.DB
	redis *redisclient.Client
}

func (i *infra) close() {
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

// healthChecks puts the ledger first so its error code wins on /healthz.
func (i *infra) healthChecks(ledger httptransport.HealthChecker) httptransport.HealthChecks {
	checks := httptransport.HealthChecks{ledger}
	if i.redis != nil {
		checks = append(checks, i.redis)
	}
	return checks
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	registry, err := quorum.ParseRegistry(cfg.Quorum.Version, cfg.Quorum.Authorities, cfg.Quorum.Threshold)
	if err != nil {
		return fmt.Errorf("build authority registry: %w", err)
	}

	deps := &infra{}
	defer deps.close()
	if cfg.DatabaseURL != "" {
		if deps.db, err = postgres.OpenDB(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, deps.db); err != nil {
			return err
		}
	}
	if deps.redis, err = redisclient.New(cfg.Redis); err != nil {
		return err
	}

	auditStore, outboxStore := newAuditStore(deps.db)
	auditPublisher := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	defer auditPublisher.Close()

	ledgerStore, closeLedger, err := newLedgerStore(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer closeLedger()
	ledger, err := ledgerservice.New(ledgerStore, registry,
		ledgerservice.WithLogger(log),
		ledgerservice.WithAuditPublisher(auditPublisher),
		ledgerservice.WithMetrics(ledgermetrics.New()),
	)
	if err != nil {
		return err
	}

	var (
		files interface {
			keyrequestservice.FileResolver
			releaseservice.KeyVault
		}
		requestStore keyrequestservice.Store
	)
	if deps.db != nil {
		files = filepostgres.New(deps.db)
		requestStore = keyrequestpostgres.New(deps.db)
	} else {
		catalog := filememory.New()
		if err := seedDemoFiles(catalog); err != nil {
			return err
		}
		files = catalog
		requestStore = keyrequestmemory.New()
		log.Warn("no DATABASE_URL set; using in-memory stores with demo files")
	}

	requests, err := keyrequestservice.New(requestStore, files, ledger, registry,
		keyrequestservice.WithLogger(log),
		keyrequestservice.WithAuditPublisher(auditPublisher),
		keyrequestservice.WithMetrics(keyrequestmetrics.New()),
		keyrequestservice.WithRequestTTL(cfg.Requests.TTL),
	)
	if err != nil {
		return err
	}

	var (
		tickets    releaseservice.Tickets
		memTickets *ticketmemory.TicketStore
	)
	if deps.redis != nil {
		tickets = ticketredis.New(deps.redis.Client)
	} else {
		memTickets = ticketmemory.New()
		tickets = memTickets
	}
	release, err := releaseservice.New(requests, ledger, tickets, files,
		releaseservice.WithLogger(log),
		releaseservice.WithAuditPublisher(auditPublisher),
		releaseservice.WithMetrics(releasemetrics.New()),
		releaseservice.WithTicketTTL(cfg.Requests.TicketTTL),
		releaseservice.WithLedgerRetries(cfg.Ledger.Retries, cfg.Ledger.Backoff),
		releaseservice.WithBreaker(circuit.New("ledger")),
	)
	if err != nil {
		return err
	}

	routerDeps := httptransport.Deps{
		Logger:      log,
		Metrics:     metrics.New(),
		Tokens:      session.NewJWTService(cfg.SessionSigningKey, cfg.SessionIssuer, cfg.SessionAudience),
		Health:      deps.healthChecks(ledger),
		KeyRequests: keyrequesthandler.New(requests, log),
		Release:     releasehandler.New(release, log),
		OpsToken:    cfg.OpsToken,
	}
	var memLimiter *limitermemory.Store
	if cfg.RateLimit.Enabled {
		var store ratelimitmw.Store
		if deps.redis != nil {
			store = limiterredis.New(deps.redis.Client)
		} else {
			memLimiter = limitermemory.New()
			store = memLimiter
		}
		limiter := ratelimitmw.New(store, log,
			ratelimitmw.WithLimit(ratelimitmodels.ClassSensitive, ratelimitmodels.Limit{Requests: cfg.RateLimit.Sensitive, Window: cfg.RateLimit.Window}),
			ratelimitmw.WithLimit(ratelimitmodels.ClassStandard, ratelimitmodels.Limit{Requests: cfg.RateLimit.Standard, Window: cfg.RateLimit.Window}),
			ratelimitmw.WithMetrics(ratelimitmetrics.New()),
		)
		routerDeps.RateLimit = limiter.Limit
	}
	if cfg.SimulateApprovals {
		simulator, err := simulation.New(ledger, registry,
			simulation.WithLogger(log),
			simulation.WithAuditPublisher(auditPublisher),
		)
		if err != nil {
			return err
		}
		routerDeps.Simulation = simulationhandler.New(simulator, log)
		log.Warn("approval simulator enabled; never enable in production")
	}

	var relay *outbox.Relay
	if len(cfg.Kafka.Brokers) > 0 {
		if outboxStore == nil {
			return errors.New("audit relay requires DATABASE_URL for the outbox")
		}
		var closeRelay func()
		if relay, closeRelay, err = newOutboxRelay(ctx, cfg, deps.db, outboxStore, log); err != nil {
			return err
		}
		defer closeRelay()
	}

	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(routerDeps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting keygate",
			"addr", cfg.Addr,
			"ledger_backend", cfg.Ledger.Backend,
			"quorum", registry.Describe(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if memTickets != nil || memLimiter != nil {
		g.Go(func() error { return sweep(gctx, memTickets, memLimiter, log) })
	}
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	return g.Wait()
}

func newAuditStore(db *sql.DB) (audit.Store, *auditpostgres.Store) {
	if db == nil {
		return auditmemory.New(), nil
	}
	store := auditpostgres.New(db)
	return store, store
}

func newLedgerStore(ctx context.Context, cfg config.Server, deps *infra) (ledgerservice.Store, func(), error) {
	noop := func() {}
	switch cfg.Ledger.Backend {
	case config.LedgerRedis:
		if deps.redis == nil {
			return nil, noop, errors.New("redis ledger backend requires REDIS_URL")
		}
		return ledgerredis.New(deps.redis.Client), noop, nil
	case config.LedgerPostgres:
		if deps.db == nil {
			return nil, noop, errors.New("postgres ledger backend requires DATABASE_URL")
		}
		pool, err := postgres.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return ledgerpostgres.New(pool), pool.Close, nil
	default:
		return ledgermemory.New(), noop, nil
	}
}

func newOutboxRelay(ctx context.Context, cfg config.Server, db *sql.DB, store *auditpostgres.Store, log *slog.Logger) (*outbox.Relay, func(), error) {
	client, err := outbox.NewClient(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := outbox.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic, 3, 1); err != nil {
		client.Close()
		return nil, nil, err
	}
	relay := outbox.NewRelay(store, client, newOutboxTx(db).RunInTx, cfg.Kafka.AuditTopic,
		outbox.WithInterval(cfg.Kafka.PollInterval),
		outbox.WithBatchSize(cfg.Kafka.BatchSize),
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics()),
	)
	return relay, client.Close, nil
}

func seedDemoFiles(catalog *filememory.Store) error {
	owner := id.UserID(uuid.New())
	for _, f := range demoFiles {
		file, err := filemodels.NewFile(f.id, f.policy, owner, time.Now())
		if err != nil {
			return err
		}
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("generate demo key: %w", err)
		}
		catalog.Put(file, key)
	}
	return nil
}

// sweep evicts expired tickets and idle rate limit buckets from the
// in-memory stores. Either store may be nil.
func sweep(ctx context.Context, tickets *ticketmemory.TicketStore, limiter *limitermemory.Store, log *slog.Logger) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if limiter != nil {
				limiter.Sweep(now)
			}
			if tickets == nil {
				continue
			}
			n, err := tickets.DeleteExpired(ctx, now)
			if err != nil {
				log.ErrorContext(ctx, "ticket sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.DebugContext(ctx, "expired tickets removed", "count", n)
			}
		}
	}
}
