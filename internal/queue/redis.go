package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPollInterval = 200 * time.Millisecond

// claim moves expired in-flight messages back to the head of the ready list,
// then pops up to ARGV[3] messages and parks them in flight until ARGV[2].
var claim = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, m in ipairs(expired) do
    redis.call('ZREM', KEYS[2], m)
    redis.call('LPUSH', KEYS[1], m)
end
local out = {}
for i = 1, tonumber(ARGV[3]) do
    local m = redis.call('LPOP', KEYS[1])
    if not m then
        break
    end
    redis.call('ZADD', KEYS[2], ARGV[2], m)
    table.insert(out, m)
end
return out
`)

type envelope struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// RedisQueue is a Queue kept in Redis: a ready list plus an in-flight sorted
// set scored by visibility deadline. Suitable for development and single
// region deployments.
type RedisQueue struct {
	cache        *redis.Client
	ready        string
	inflight     string
	visibility   time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewRedisQueue builds a queue stored under the given name. Unacknowledged
// messages become visible again after visibility.
func NewRedisQueue(cache *redis.Client, name string, visibility time.Duration) *RedisQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		cache:        cache,
		ready:        "queue:" + name + ":ready",
		inflight:     "queue:" + name + ":inflight",
		visibility:   visibility,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
}

// Publish appends payload to the ready list.
func (q *RedisQueue) Publish(ctx context.Context, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{ID: uuid.NewString(), Body: body})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := q.cache.RPush(ctx, q.ready, raw).Err(); err != nil {
		return fmt.Errorf("redis queue push: %w", err)
	}
	return nil
}

// Receive claims up to max messages, polling until one is available or wait
// elapses.
func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	max = clampBatch(max)
	deadline := q.now().Add(clampWait(wait))

	for {
		messages, err := q.claim(ctx, max)
		if err != nil || len(messages) > 0 {
			return messages, err
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Ack removes an in-flight message. Acknowledging a message whose visibility
// already lapsed is a no-op; it will be delivered again.
func (q *RedisQueue) Ack(ctx context.Context, token string) error {
	if err := q.cache.ZRem(ctx, q.inflight, token).Err(); err != nil {
		return fmt.Errorf("redis queue ack: %w", err)
	}
	return nil
}

// Backlog reports how many messages wait in the ready list and how many are
// held by consumers.
func (q *RedisQueue) Backlog(ctx context.Context) (ready, inFlight int64, err error) {
	var readyCmd, inflightCmd *redis.IntCmd
	_, err = q.cache.Pipelined(ctx, func(p redis.Pipeliner) error {
		readyCmd = p.LLen(ctx, q.ready)
		inflightCmd = p.ZCard(ctx, q.inflight)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("redis queue backlog: %w", err)
	}
	return readyCmd.Val(), inflightCmd.Val(), nil
}

func (q *RedisQueue) claim(ctx context.Context, max int) ([]Message, error) {
	now := q.now()
	raw, err := claim.Run(ctx, q.cache, []string{q.ready, q.inflight},
		now.UnixMilli(), now.Add(q.visibility).UnixMilli(), max).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis queue claim: %w", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, item := range raw {
		var env envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			// keep the delivery so the consumer can log and drop it
			messages = append(messages, Message{Body: []byte(item), AckToken: item})
			continue
		}
		messages = append(messages, Message{ID: env.ID, Body: env.Body, AckToken: item})
	}
	return messages, nil
}
