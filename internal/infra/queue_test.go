package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerd/internal/config"
	"github.com/congo-pay/ledgerd/internal/queue"
)

func TestNewTransferQueueSelectsBackend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	ctx := context.Background()

	q, err := NewTransferQueue(ctx, config.Config{QueueBackend: config.QueueBackendRedis, QueueName: "transfer_events"}, cache)
	if err != nil {
		t.Fatalf("redis backend: %v", err)
	}
	if _, ok := q.(*queue.RedisQueue); !ok {
		t.Fatalf("expected *queue.RedisQueue, got %T", q)
	}

	q, err = NewTransferQueue(ctx, config.Config{
		QueueBackend:       config.QueueBackendSQS,
		AWSRegion:          "us-east-1",
		AWSEndpoint:        "http://localhost:4566",
		AWSAccessKeyID:     "test",
		AWSSecretAccessKey: "test",
		SQSQueueURL:        "http://localhost:4566/000000000000/transfer_events",
	}, nil)
	if err != nil {
		t.Fatalf("sqs backend: %v", err)
	}
	if _, ok := q.(*queue.SQSQueue); !ok {
		t.Fatalf("expected *queue.SQSQueue, got %T", q)
	}

	if _, err := NewTransferQueue(ctx, config.Config{QueueBackend: "kafka"}, cache); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
