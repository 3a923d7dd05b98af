// Package outbox relays audit events from the PostgreSQL outbox table to Kafka.
//
// Rows are locked with FOR UPDATE SKIP LOCKED, produced synchronously, and
// stamped published in the same transaction. A crash between produce and
// commit re-delivers the batch; consumers dedupe on the event id header.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	auditpg "keygate/pkg/platform/audit/store/postgres"
)

// Source reads and acknowledges outbox rows.
type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]auditpg.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// TxRunner runs fn inside one database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Relay struct {
	source   Source
	producer Producer
	runInTx  TxRunner
	topic    string

	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func NewRelay(source Source, producer Producer, runInTx TxRunner, topic string, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		producer:  producer,
		runInTx:   runInTx,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays batches until ctx is cancelled. Batch failures are logged and
// retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
				break
			}
			// Drain backlog without waiting for the next tick.
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes at most one batch and returns how many rows it published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.runInTx(ctx, func(ctx context.Context) error {
		entries, err := r.source.FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		records := make([]*kgo.Record, len(entries))
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			records[i] = &kgo.Record{
				Topic: r.topic,
				Key:   []byte(e.AggregateID),
				Value: e.Payload,
				Headers: []kgo.RecordHeader{
					{Key: "event_id", Value: []byte(e.ID.String())},
					{Key: "event_type", Value: []byte(e.EventType)},
				},
				Timestamp: e.CreatedAt,
			}
			ids[i] = e.ID
		}

		start := time.Now()
		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			r.metrics.IncFailures()
			return fmt.Errorf("produce audit batch: %w", err)
		}
		r.metrics.ObserveProduce(len(records), time.Since(start))

		if err := r.source.MarkPublished(ctx, ids, time.Now()); err != nil {
			return err
		}
		published = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// NewClient builds a franz-go client that waits for all in-sync replicas.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
}

// Metrics tracks relay throughput.
type Metrics struct {
	Published       prometheus.Counter
	Failures        prometheus.Counter
	ProduceDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_audit_outbox_published_total",
			Help: "Audit events relayed from the outbox to Kafka",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "keygate_audit_outbox_failures_total",
			Help: "Outbox batches that failed to produce",
		}),
		ProduceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "keygate_audit_outbox_produce_duration_seconds",
			Help:    "Duration of synchronous batch produce calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveProduce(n int, d time.Duration) {
	if m != nil {
		m.Published.Add(float64(n))
		m.ProduceDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}
