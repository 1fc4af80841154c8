package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/ledgerd/internal/logging"
	"github.com/congo-pay/ledgerd/internal/notification"
	"github.com/congo-pay/ledgerd/internal/queue"
)

type scriptedQueue struct {
	mu      sync.Mutex
	errs    []error
	batches [][]queue.Message
	acked   []string
}

func (q *scriptedQueue) Publish(context.Context, any) error { return nil }

func (q *scriptedQueue) Receive(ctx context.Context, _ int, wait time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		q.mu.Unlock()
		return nil, err
	}
	if len(q.batches) > 0 {
		batch := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return batch, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (q *scriptedQueue) Ack(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, token)
	return nil
}

func (q *scriptedQueue) ackedTokens() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures int
	sent     []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("downstream unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.sent...)
}

func eventMessage(t *testing.T, id, token string) queue.Message {
	t.Helper()
	body, err := json.Marshal(TransferEvent{
		SenderID:   "alice",
		ReceiverID: "bob",
		Amount:     decimal.RequireFromString("30.00"),
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return queue.Message{ID: id, Body: body, AckToken: token}
}

func newSeenStore(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func runConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, c.Stop(ctx))
	})
}

var fastLoop = ConsumerConfig{Wait: 10 * time.Millisecond, Backoff: 10 * time.Millisecond}

func TestTransferEventWireShape(t *testing.T) {
	ev := TransferEvent{
		SenderID:   "a",
		ReceiverID: "b",
		Amount:     decimal.RequireFromString("30"),
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":"a","receiverId":"b","amount":30.00,"timestamp":"2024-05-01T10:00:00.000Z"}`, string(body))

	var decoded TransferEvent
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.True(t, decoded.Amount.Equal(ev.Amount))
	assert.True(t, decoded.Timestamp.Equal(ev.Timestamp))

	assert.Error(t, json.Unmarshal([]byte(`{"senderId":"a","amount":1,"timestamp":"2024-05-01T10:00:00Z"}`), &decoded))
}

func TestConsumerForwardsAndAcks(t *testing.T) {
	q := &scriptedQueue{batches: [][]queue.Message{{eventMessage(t, "m-1", "rh-1")}}}
	notifier := &recordingNotifier{}
	runConsumer(t, NewConsumer(q, notifier, newSeenStore(t), logging.Discard(), fastLoop))

	require.Eventually(t, func() bool { return len(q.ackedTokens()) == 1 }, time.Second, 5*time.Millisecond)

	sent := notifier.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, notification.KindTransferReceived, sent[0].Kind)
	assert.Equal(t, "bob", sent[0].Destination)
	assert.Equal(t, "You received 30.00 from alice", sent[0].Body)
	assert.Equal(t, "m-1", sent[0].Reference)
	assert.Equal(t, notification.KindTransferSent, sent[1].Kind)
}

func TestConsumerSuppressesRedelivery(t *testing.T) {
	q := &scriptedQueue{batches: [][]queue.Message{
		{eventMessage(t, "m-1", "rh-1")},
		{eventMessage(t, "m-1", "rh-2")},
	}}
	notifier := &recordingNotifier{}
	runConsumer(t, NewConsumer(q, notifier, newSeenStore(t), logging.Discard(), fastLoop))

	require.Eventually(t, func() bool { return len(q.ackedTokens()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, notifier.messages(), 2, "one event yields one pair of notifications")
	assert.Equal(t, []string{"rh-1", "rh-2"}, q.ackedTokens())
}

func TestConsumerDropsMalformedPayload(t *testing.T) {
	q := &scriptedQueue{batches: [][]queue.Message{{{ID: "bad", Body: []byte("not json"), AckToken: "rh-bad"}}}}
	notifier := &recordingNotifier{}
	runConsumer(t, NewConsumer(q, notifier, nil, logging.Discard(), fastLoop))

	require.Eventually(t, func() bool { return len(q.ackedTokens()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, notifier.messages())
}

func TestConsumerBacksOffAndRetries(t *testing.T) {
	q := &scriptedQueue{
		errs:    []error{errors.New("connection reset")},
		batches: [][]queue.Message{{eventMessage(t, "m-1", "rh-1")}, {eventMessage(t, "m-1", "rh-2")}},
	}
	// the first delivery fails downstream and is left unacknowledged
	notifier := &recordingNotifier{failures: 1}
	runConsumer(t, NewConsumer(q, notifier, newSeenStore(t), logging.Discard(), fastLoop))

	require.Eventually(t, func() bool { return len(q.ackedTokens()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"rh-2"}, q.ackedTokens())
	assert.Len(t, notifier.messages(), 2)
}

func TestConsumerLifecycle(t *testing.T) {
	q := &scriptedQueue{}
	c := NewConsumer(q, nil, nil, logging.Discard(), fastLoop)

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx), "stopping twice is harmless")

	require.NoError(t, c.Start(context.Background()), "a stopped consumer can be restarted")
	require.NoError(t, c.Stop(ctx))
}

func TestConsumerWithRedisQueue(t *testing.T) {
	client := newSeenStore(t)
	q := queue.NewRedisQueue(client, "transfers", time.Second)
	notifier := &recordingNotifier{}

	ev := NewTransferEvent("alice", "bob", decimal.RequireFromString("12.34"))
	require.NoError(t, q.Publish(context.Background(), ev))

	runConsumer(t, NewConsumer(q, notifier, client, logging.Discard(), fastLoop))

	require.Eventually(t, func() bool { return len(notifier.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "You received 12.34 from alice", notifier.messages()[0].Body)
}
