package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerd/internal/config"
	"github.com/congo-pay/ledgerd/internal/queue"
)

// NewTransferQueue builds the queue backend selected by QUEUE_BACKEND.
func NewTransferQueue(ctx context.Context, cfg config.Config, cache *redis.Client) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendSQS:
		client, err := NewSQSClient(ctx, SQSOptions{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.AWSEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return queue.NewSQSQueue(client, cfg.SQSQueueURL), nil
	case config.QueueBackendRedis:
		if cache == nil {
			return nil, fmt.Errorf("redis queue backend requires a redis client")
		}
		return queue.NewRedisQueue(cache, cfg.QueueName, cfg.QueueVisibility), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
