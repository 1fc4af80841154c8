package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerd/internal/notification"
	"github.com/congo-pay/ledgerd/internal/queue"
)

const (
	defaultBatch   = 10
	defaultWait    = 5 * time.Second
	defaultBackoff = 5 * time.Second
	seenPrefix     = "transfer_event:"
	seenTTL        = 24 * time.Hour
)

// ErrAlreadyRunning is returned by Start on a consumer that is already running.
var ErrAlreadyRunning = errors.New("consumer already running")

// ConsumerConfig tunes the poll loop. Zero values select the defaults
// (10 messages, 5s long-poll, 5s backoff).
type ConsumerConfig struct {
	Batch   int
	Wait    time.Duration
	Backoff time.Duration
}

// Consumer drains transfer events from the queue and forwards them to a
// notifier. Deliveries are at-least-once; a Redis marker keyed by message id
// suppresses repeat notifications for redelivered messages.
type Consumer struct {
	queue    queue.Queue
	notifier notification.Notifier
	seen     *redis.Client
	logger   *slog.Logger
	cfg      ConsumerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer builds a consumer. seen may be nil, in which case duplicates are
// forwarded as they arrive.
func NewConsumer(q queue.Queue, notifier notification.Notifier, seen *redis.Client, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.Wait <= 0 {
		cfg.Wait = defaultWait
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{queue: q, notifier: notifier, seen: seen, logger: logger, cfg: cfg}
}

// Start launches the poll loop in the background. The loop runs until ctx is
// cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		c.run(loopCtx)
	}(c.done)

	c.logger.Info("transfer event consumer started", slog.Int("batch", c.cfg.Batch), slog.Duration("wait", c.cfg.Wait))
	return nil
}

// Stop cancels the loop and waits for the in-progress cycle to finish or for
// ctx to expire.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.logger.Info("transfer event consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop consumer: %w", ctx.Err())
	}
}

func (c *Consumer) run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("transfer event poll failed", slog.Any("error", err), slog.Duration("backoff", c.cfg.Backoff))
			timer := time.NewTimer(c.cfg.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// poll runs one receive cycle. Any error aborts the rest of the batch; the
// unacknowledged messages reappear after their visibility timeout.
func (c *Consumer) poll(ctx context.Context) error {
	messages, err := c.queue.Receive(ctx, c.cfg.Batch, c.cfg.Wait)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if err := c.process(ctx, m); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, m queue.Message) error {
	var event TransferEvent
	if err := json.Unmarshal(m.Body, &event); err != nil {
		c.logger.Error("dropping malformed transfer event",
			slog.String("message_id", m.ID),
			slog.String("body", string(m.Body)),
			slog.Any("error", err),
		)
		return c.queue.Ack(ctx, m.AckToken)
	}

	duplicate, err := c.alreadySeen(ctx, m.ID)
	if err != nil {
		return err
	}
	if duplicate {
		c.logger.Info("skipping redelivered transfer event", slog.String("message_id", m.ID))
		return c.queue.Ack(ctx, m.AckToken)
	}

	c.logger.Info("processing transfer event",
		slog.String("message_id", m.ID),
		slog.String("sender_id", event.SenderID),
		slog.String("receiver_id", event.ReceiverID),
		slog.String("amount", event.Amount.StringFixed(2)),
		slog.Time("timestamp", event.Timestamp),
	)

	if err := c.forward(ctx, m.ID, event); err != nil {
		return err
	}
	if err := c.markSeen(ctx, m.ID); err != nil {
		return err
	}
	return c.queue.Ack(ctx, m.AckToken)
}

func (c *Consumer) forward(ctx context.Context, ref string, event TransferEvent) error {
	if c.notifier == nil {
		return nil
	}
	amount := event.Amount.StringFixed(2)
	if err := c.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindTransferReceived,
		Destination: event.ReceiverID,
		Body:        fmt.Sprintf("You received %s from %s", amount, event.SenderID),
		Reference:   ref,
	}); err != nil {
		return fmt.Errorf("notify receiver: %w", err)
	}
	if err := c.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindTransferSent,
		Destination: event.SenderID,
		Body:        fmt.Sprintf("You sent %s to %s", amount, event.ReceiverID),
		Reference:   ref,
	}); err != nil {
		return fmt.Errorf("notify sender: %w", err)
	}
	return nil
}

func (c *Consumer) alreadySeen(ctx context.Context, id string) (bool, error) {
	if c.seen == nil || id == "" {
		return false, nil
	}
	n, err := c.seen.Exists(ctx, seenPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return n > 0, nil
}

func (c *Consumer) markSeen(ctx context.Context, id string) error {
	if c.seen == nil || id == "" {
		return nil
	}
	if err := c.seen.Set(ctx, seenPrefix+id, "1", seenTTL).Err(); err != nil {
		return fmt.Errorf("dedupe mark: %w", err)
	}
	return nil
}
