package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ci-release-arbiter/internal/bus"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return bus.NewFromClient(rdb)
}

func TestPublishAndRead(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "topic_a", []byte(`{"hello":"world"}`))
	require.NoError(t, err)

	require.NoError(t, b.EnsureGroup(ctx, "topic_a", "group_a"))
	// Idempotent group creation must not error.
	require.NoError(t, b.EnsureGroup(ctx, "topic_a", "group_a"))

	msgs, err := b.Read(ctx, "topic_a", "group_a", "consumer_1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"hello":"world"}`, msgs[0].Data)
}

func TestReadDeliversEachMessageToOneGroupMemberOnly(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "topic_b", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, b.EnsureGroup(ctx, "topic_b", "group_b"))

	msgs1, err := b.Read(ctx, "topic_b", "group_b", "consumer_1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs1, 1)

	msgs2, err := b.Read(ctx, "topic_b", "group_b", "consumer_2", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs2, "second consumer in the same group must not see an already-delivered message")
}

func TestDifferentGroupsSeeEveryMessageIndependently(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "topic_c", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, b.EnsureGroup(ctx, "topic_c", "group_or"))
	require.NoError(t, b.EnsureGroup(ctx, "topic_c", "group_ar"))

	orMsgs, err := b.Read(ctx, "topic_c", "group_or", "or1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, orMsgs, 1)

	arMsgs, err := b.Read(ctx, "topic_c", "group_ar", "ar1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, arMsgs, 1, "an independent consumer group must see the message too")
}

func TestAckRemovesFromPending(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "topic_d", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, b.EnsureGroup(ctx, "topic_d", "group_d"))

	msgs, err := b.Read(ctx, "topic_d", "group_d", "c1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	pending, err := b.Pending(ctx, "topic_d", "group_d")
	require.NoError(t, err)
	require.Equal(t, int64(1), pending)

	require.NoError(t, b.Ack(ctx, "topic_d", "group_d", msgs[0].ID))

	pending, err = b.Pending(ctx, "topic_d", "group_d")
	require.NoError(t, err)
	require.Equal(t, int64(0), pending)
}

func TestClaimReassignsIdleMessages(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, "topic_e", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, b.EnsureGroup(ctx, "topic_e", "group_e"))

	msgs, err := b.Read(ctx, "topic_e", "group_e", "crashed_consumer", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Message is still pending against crashed_consumer; nothing is idle
	// enough yet to claim under a generous min-idle.
	claimed, err := b.Claim(ctx, "topic_e", "group_e", "recovering_consumer", time.Hour, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)

	// A near-zero min-idle claims it immediately.
	claimed, err = b.Claim(ctx, "topic_e", "group_e", "recovering_consumer", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, msgs[0].ID, claimed[0].ID)
}
