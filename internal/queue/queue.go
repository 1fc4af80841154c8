// Package queue provides the at-least-once message queue used to fan transfer
// events out to background consumers. Messages stay invisible while a consumer
// holds them and come back if they are not acknowledged in time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxBatch is the largest number of messages a single Receive returns.
	MaxBatch = 10
	// MaxWait caps the long-poll duration of a single Receive.
	MaxWait = 20 * time.Second
)

// Message is one delivery of a queued payload. The same payload may be
// delivered more than once; ID is stable across redeliveries.
type Message struct {
	ID       string
	Body     []byte
	AckToken string
}

// Publisher enqueues JSON-serialisable payloads.
type Publisher interface {
	Publish(ctx context.Context, payload any) error
}

// Queue is a durable queue with visibility timeout and long-poll receive.
type Queue interface {
	Publisher
	// Receive waits up to wait for at most max messages.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Ack removes a delivered message for good.
	Ack(ctx context.Context, token string) error
}

func encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}

func clampBatch(max int) int {
	if max <= 0 {
		return 1
	}
	if max > MaxBatch {
		return MaxBatch
	}
	return max
}

func clampWait(wait time.Duration) time.Duration {
	if wait < 0 {
		return 0
	}
	if wait > MaxWait {
		return MaxWait
	}
	return wait
}
