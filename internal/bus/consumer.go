package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
	"github.com/fairyhunter13/ci-release-arbiter/internal/obsctx"
)

// Handler processes one delivered message. A non-nil error means the
// message is NOT acked and will be redelivered or reclaimed; handlers must
// therefore be idempotent per the bus's at-least-once delivery contract.
type Handler func(ctx context.Context, msg Message) error

// Consumer drives a read-dispatch-ack loop against one topic/group/consumer
// triple, plus a periodic idle-reclaim pass that recovers messages owned by
// a crashed sibling consumer. It never propagates handler errors upward: it
// logs, leaves the message pending, and keeps looping (per the error
// policy's "handler exceptions do not ack" rule). With the default
// concurrency of 1, a batch's messages are handled in delivery order,
// sequentially; WithConcurrency(n) dispatches up to n of a batch's messages
// to the handler in parallel, bounded by a semaphore, before the next read.
type Consumer struct {
	bus     *Bus
	topic   string
	group   string
	name    string
	handler Handler

	batchSize     int64
	blockTimeout  time.Duration
	claimIdle     time.Duration
	claimInterval time.Duration
	errorBackoff  time.Duration
	maxDeliveries int64
	concurrency   int
	readBackoff   *backoff.ExponentialBackOff
}

// ConsumerOption customizes a Consumer's polling cadence.
type ConsumerOption func(*Consumer)

// WithBatchSize overrides the default read batch size of 10.
func WithBatchSize(n int64) ConsumerOption { return func(c *Consumer) { c.batchSize = n } }

// WithBlockTimeout overrides how long a single read blocks for new messages.
func WithBlockTimeout(d time.Duration) ConsumerOption { return func(c *Consumer) { c.blockTimeout = d } }

// WithClaimIdle overrides the min-idle-time before a pending message is
// eligible for reclaim.
func WithClaimIdle(d time.Duration) ConsumerOption { return func(c *Consumer) { c.claimIdle = d } }

// WithErrorBackoff overrides the sleep the loop takes after its own
// (non-handler) error.
func WithErrorBackoff(d time.Duration) ConsumerOption { return func(c *Consumer) { c.errorBackoff = d } }

// WithMaxDeliveries overrides the delivery count past which a reclaimed
// message is logged as a poison-message candidate. It does not change ack
// behavior: the message is still retried, only flagged for operator
// attention (per the bus's no-auto-DLQ policy).
func WithMaxDeliveries(n int64) ConsumerOption { return func(c *Consumer) { c.maxDeliveries = n } }

// WithConcurrency overrides the number of a batch's messages dispatched to
// the handler concurrently (default 1, i.e. sequential). Sizes the
// in-process dispatcher pool per §5; handlers must be safe to run in
// parallel across distinct messages, which every Handler in this repo is
// (each operates on one job_id's worth of independent state).
func WithConcurrency(n int) ConsumerOption { return func(c *Consumer) { c.concurrency = n } }

// NewConsumer constructs a Consumer. group and name identify this consumer
// within the bus's consumer-group bookkeeping; handler is invoked once per
// delivered message.
func NewConsumer(b *Bus, topic, group, name string, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		bus:           b,
		topic:         topic,
		group:         group,
		name:          name,
		handler:       handler,
		batchSize:     10,
		blockTimeout:  5 * time.Second,
		claimIdle:     60 * time.Second,
		claimInterval: 30 * time.Second,
		errorBackoff:  5 * time.Second,
		maxDeliveries: 10,
		concurrency:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.readBackoff = backoff.NewExponentialBackOff()
	c.readBackoff.InitialInterval = c.errorBackoff
	c.readBackoff.MaxInterval = 5 * c.errorBackoff
	c.readBackoff.MaxElapsedTime = 0 // retry indefinitely; Run's ctx governs lifetime
	return c
}

// Run ensures the consumer group exists, then blocks processing messages
// until ctx is cancelled. It also runs a background idle-reclaim ticker so
// that a message abandoned by a crashed sibling is eventually retried by
// this consumer.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.bus.EnsureGroup(ctx, c.topic, c.group); err != nil {
		return err
	}
	slog.Info("bus consumer starting",
		slog.String("topic", c.topic), slog.String("group", c.group), slog.String("consumer", c.name))

	go c.reclaimLoop(ctx)

	concurrency := c.concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	for {
		select {
		case <-ctx.Done():
			slog.Info("bus consumer stopping",
				slog.String("topic", c.topic), slog.String("group", c.group), slog.String("consumer", c.name))
			return nil
		default:
		}

		msgs, err := c.bus.Read(ctx, c.topic, c.group, c.name, c.batchSize, c.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d := c.readBackoff.NextBackOff()
			slog.Error("bus read error, backing off",
				slog.String("topic", c.topic), slog.Any("error", err), slog.Duration("backoff", d))
			sleep(ctx, d)
			continue
		}
		c.readBackoff.Reset()

		var wg sync.WaitGroup
		for _, m := range msgs {
			m := m
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.process(ctx, m)
			}()
		}
		wg.Wait()
	}
}

func (c *Consumer) process(ctx context.Context, m Message) {
	hctx := obsctx.ContextWithRequestID(ctx, m.ID)
	if err := c.handler(hctx, m); err != nil {
		slog.Error("bus handler error, leaving message pending",
			slog.String("topic", c.topic), slog.String("group", c.group),
			slog.String("message_id", m.ID), slog.Any("error", err))
		observability.RecordBusConsume(c.topic, c.group, "error")
		return
	}
	if err := c.bus.Ack(ctx, c.topic, c.group, m.ID); err != nil {
		slog.Error("bus ack error",
			slog.String("topic", c.topic), slog.String("group", c.group),
			slog.String("message_id", m.ID), slog.Any("error", err))
		observability.RecordBusConsume(c.topic, c.group, "ack_error")
		return
	}
	observability.RecordBusConsume(c.topic, c.group, "ok")
}

// reclaimLoop periodically claims messages idle longer than claimIdle so
// this consumer picks up work abandoned by a crashed sibling.
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimed, err := c.bus.Claim(ctx, c.topic, c.group, c.name, c.claimIdle, c.batchSize)
			if err != nil {
				slog.Error("bus reclaim error",
					slog.String("topic", c.topic), slog.String("group", c.group), slog.Any("error", err))
				continue
			}
			if len(claimed) > 0 {
				slog.Info("bus reclaimed idle messages",
					slog.String("topic", c.topic), slog.String("group", c.group), slog.Int("count", len(claimed)))
				observability.RecordBusReclaim(c.topic, c.group, len(claimed))
			}
			for _, m := range claimed {
				if m.DeliveryCount > c.maxDeliveries {
					slog.Warn("poison message candidate, still retrying",
						slog.String("topic", c.topic), slog.String("group", c.group),
						slog.String("message_id", m.ID), slog.Int64("delivery_count", m.DeliveryCount))
				}
				c.process(ctx, m)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
