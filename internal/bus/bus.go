// Package bus implements the Message Bus: a durable, ordered, per-topic log
// with consumer groups, explicit acknowledgement, and idle-message reclaim,
// backed by Redis Streams.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ci-release-arbiter/internal/adapter/observability"
)

// Topic names, matching the event schemas in the external-interfaces
// contract verbatim.
const (
	TopicCodeAnalysisRequested = "code_analysis_requested"
	TopicAgentResults          = "agent_results"
	TopicReleaseDecisions      = "release_decisions"
)

// dataField is the single field under which every event's JSON-shaped
// payload is stored, per the bus's serialization contract.
const dataField = "data"

// Message is one delivered stream entry: the bus's monotonically increasing
// ID and the raw JSON payload published under dataField. DeliveryCount is
// only populated for messages returned by Claim, where Redis already tracks
// it per pending entry; freshly Read messages carry the zero value.
type Message struct {
	ID            string
	Data          string
	DeliveryCount int64
}

// Bus wraps a Redis client to provide the publish/consume/ack/reclaim
// primitives the rest of the system depends on. It holds no per-topic
// state; all group/consumer bookkeeping lives in Redis.
type Bus struct {
	rdb *redis.Client
}

// New constructs a Bus from a redis:// connection URL.
func New(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=bus.New: parse redis url: %w", err)
	}
	return &Bus{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-constructed redis.Client, primarily so
// tests can point the Bus at a miniredis instance.
func NewFromClient(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Close releases the underlying Redis connection pool.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Ping verifies connectivity, used by readiness checks.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=bus.Ping: %w", err)
	}
	return nil
}

// Publish appends payload to topic and returns the assigned message ID.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{dataField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("op=bus.Publish topic=%s: %w", topic, err)
	}
	observability.RecordBusPublish(topic)
	return id, nil
}

// EnsureGroup creates group on topic starting from the beginning of the
// stream, creating the stream itself if absent. Group creation is
// idempotent: an already-existing group is not an error (BUSYGROUP is
// swallowed).
func (b *Bus) EnsureGroup(ctx context.Context, topic, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("op=bus.EnsureGroup topic=%s group=%s: %w", topic, group, err)
}

// Read blocks up to blockTimeout for up to count new (">") messages
// delivered to consumer within group on topic. A nil, nil return means the
// block timeout elapsed with nothing to read — callers should loop.
func (b *Bus) Read(ctx context.Context, topic, group, consumer string, count int64, blockTimeout time.Duration) ([]Message, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=bus.Read topic=%s group=%s: %w", topic, group, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toMessages(res[0].Messages), nil
}

// Ack marks id as processed for group on topic.
func (b *Bus) Ack(ctx context.Context, topic, group, id string) error {
	if err := b.rdb.XAck(ctx, topic, group, id).Err(); err != nil {
		return fmt.Errorf("op=bus.Ack topic=%s group=%s id=%s: %w", topic, group, id, err)
	}
	return nil
}

// Pending returns the total number of unacked messages owed by group on
// topic, across all consumers.
func (b *Bus) Pending(ctx context.Context, topic, group string) (int64, error) {
	summary, err := b.rdb.XPending(ctx, topic, group).Result()
	if err != nil {
		return 0, fmt.Errorf("op=bus.Pending topic=%s group=%s: %w", topic, group, err)
	}
	return summary.Count, nil
}

// Claim transfers ownership of messages in topic/group idle longer than
// minIdle to newConsumer and returns them ready for (re)processing. This is
// the recovery path for a consumer that crashed mid-handling.
func (b *Bus) Claim(ctx context.Context, topic, group, newConsumer string, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: topic,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("op=bus.Claim xpendingext topic=%s group=%s: %w", topic, group, err)
	}
	var ids []string
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: newConsumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("op=bus.Claim xclaim topic=%s group=%s: %w", topic, group, err)
	}
	msgs := toMessages(claimed)
	for i := range msgs {
		// +1: RetryCount is the count *before* this claim's delivery.
		msgs[i].DeliveryCount = deliveries[msgs[i].ID] + 1
	}
	return msgs, nil
}

func toMessages(raw []redis.XMessage) []Message {
	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		v, _ := m.Values[dataField].(string)
		out = append(out, Message{ID: m.ID, Data: v})
	}
	return out
}
